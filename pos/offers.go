package pos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stevemurr/pos-server/store"
)

var offerFields = []string{"offer_price", "offer_start_time", "offer_end_time"}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	time.DateOnly,
}

// ParseTime parses the ISO 8601 timestamps the front end stores. A trailing
// "Z" means UTC; timestamps without an offset are taken as UTC.
func ParseTime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid timestamp: %v", v)
	}
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %s", s)
}

func present(v any) bool {
	return v != nil && v != ""
}

// OfferExpired reports whether item's offer fields should be cleared at now:
// the offer has ended, starts after it ends, or its times do not parse. An
// item with no offer_end_time never expires.
func OfferExpired(item store.Document, now time.Time) (bool, string) {
	start, end := item["offer_start_time"], item["offer_end_time"]
	if !present(end) {
		return false, ""
	}
	endT, err := ParseTime(end)
	if err != nil {
		return true, "invalid offer_end_time"
	}
	if now.After(endT) {
		return true, "offer ended"
	}
	if present(start) {
		startT, err := ParseTime(start)
		if err != nil {
			return true, "invalid offer_start_time"
		}
		if startT.After(endT) {
			return true, "offer starts after it ends"
		}
	}
	return false, ""
}

// ClearOffer removes the offer fields from the item with id.
func (s *Service) ClearOffer(ctx context.Context, id string) error {
	unset := make(map[string]any, len(offerFields))
	for _, f := range offerFields {
		unset[f] = ""
	}
	_, err := s.store.Collection(Items).UpdateOne(ctx, store.Filter{store.IDField: id}, store.Update{"$unset": unset})
	return err
}

// SweepOffers clears expired or invalid offers on every item and returns how
// many items were changed. A failure on one item is logged and the sweep
// continues.
func (s *Service) SweepOffers(ctx context.Context) (int, error) {
	items, err := s.store.Collection(Items).Find(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()
	n := 0
	for _, item := range items {
		expired, reason := OfferExpired(item, now)
		if !expired {
			continue
		}
		if err := s.ClearOffer(ctx, item.ID()); err != nil {
			s.logger.Error("clear offer", "id", item.ID(), "err", err)
			continue
		}
		s.logger.Info("offer cleared", "id", item.ID(), "item", item["item_name"], "reason", reason)
		n++
	}
	return n, nil
}

// ItemsWithLiveOffers lists items, clearing stale offers first so callers
// never see an expired price.
func (s *Service) ItemsWithLiveOffers(ctx context.Context) ([]store.Document, error) {
	items, err := s.store.Collection(Items).Find(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for _, item := range items {
		if expired, _ := OfferExpired(item, now); !expired {
			continue
		}
		if err := s.ClearOffer(ctx, item.ID()); err != nil {
			return nil, err
		}
		for _, f := range offerFields {
			delete(item, f)
		}
	}
	return items, nil
}

// SweepComboOffers deletes combo offers whose offer_end_time has passed and
// returns how many were removed. Unparseable end times are logged and kept.
func (s *Service) SweepComboOffers(ctx context.Context) (int, error) {
	c := s.store.Collection(ComboOffers)
	offers, err := c.Find(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()
	n := 0
	for _, o := range offers {
		end := o["offer_end_time"]
		if !present(end) {
			continue
		}
		endT, err := ParseTime(end)
		if err != nil {
			s.logger.Warn("invalid combo offer end time", "id", o.ID(), "err", err)
			continue
		}
		if !now.After(endT) {
			continue
		}
		if _, err := c.DeleteOne(ctx, store.Filter{store.IDField: o.ID()}); err != nil {
			s.logger.Error("delete combo offer", "id", o.ID(), "err", err)
			continue
		}
		s.logger.Info("expired combo offer deleted", "id", o.ID())
		n++
	}
	return n, nil
}
