package pos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stevemurr/pos-server/store"
)

var (
	ErrBadImageField  = errors.New("invalid image field")
	ErrBadFilename    = errors.New("invalid filename")
	ErrImageNotFound  = errors.New("image not referenced by item")
	ErrItemIDRequired = errors.New("item id is required")
)

// Image reference fields on an item document.
const (
	FieldImage        = "image"
	FieldImages       = "images"
	FieldAddonImage   = "addon_image"
	FieldComboImage   = "combo_image"
	FieldVariantImage = "variant_image"
)

// nestedImageLists maps a nested image field to the list holding it.
var nestedImageLists = map[string]string{
	FieldAddonImage:   "addons",
	FieldComboImage:   "combos",
	FieldVariantImage: "variants",
}

// CleanFilename strips directories so a name can't escape the upload dir.
func CleanFilename(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || strings.ContainsAny(base, `\/`) {
		return "", fmt.Errorf("%w: %q", ErrBadFilename, name)
	}
	return base, nil
}

// imageUpdate builds the filter, update and options that drop filename from
// the given field of item itemID.
func imageUpdate(itemID, field, filename string) (store.Filter, store.Update, []store.Option, error) {
	byID := store.Filter{store.IDField: itemID}
	switch field {
	case FieldImages:
		return byID, store.Update{"$pull": map[string]any{FieldImages: filename}}, nil, nil
	case FieldImage, "":
		return store.Filter{store.IDField: itemID, FieldImage: filename},
			store.Update{"$set": map[string]any{FieldImage: nil}}, nil, nil
	}
	list, ok := nestedImageLists[field]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %q", ErrBadImageField, field)
	}
	return byID,
		store.Update{"$set": map[string]any{list + ".$[elem]." + field: nil}},
		[]store.Option{store.WithArrayFilters(store.Filter{"elem." + field: filename})}, nil
}

// ScrubImage removes references to filename from one field of an item, then
// deletes the file from uploadDir if it exists. It returns ErrImageNotFound
// when the item did not reference the image.
func (s *Service) ScrubImage(ctx context.Context, uploadDir, itemID, field, filename string) error {
	if itemID == "" {
		return ErrItemIDRequired
	}
	name, err := CleanFilename(filename)
	if err != nil {
		return err
	}
	filter, update, opts, err := imageUpdate(itemID, field, name)
	if err != nil {
		return err
	}
	res, err := s.store.Collection(Items).UpdateOne(ctx, filter, update, opts...)
	if err != nil {
		return err
	}
	if res.ModifiedCount == 0 {
		return fmt.Errorf("%w: %s in %s of %s", ErrImageNotFound, name, field, itemID)
	}
	if uploadDir == "" {
		return nil
	}
	// Image files live next to the database; a client only clears the reference.
	if _, remote := s.store.(*store.RemoteStore); remote {
		s.logger.Info("image reference cleared on server", "file", name, "item", itemID)
		return nil
	}
	path := filepath.Join(uploadDir, name)
	switch err := os.Remove(path); {
	case err == nil:
		s.logger.Info("image deleted", "file", name, "item", itemID)
	case errors.Is(err, os.ErrNotExist):
		s.logger.Warn("image file not found", "file", name)
	default:
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}
