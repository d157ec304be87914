package pos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stevemurr/pos-server/store"
)

// ErrBadOrderType is returned for an empty order type.
var ErrBadOrderType = errors.New("order type is required")

// NextOrderNumber increments the counter for orderType and formats it as
// "<type>-NNNN" (e.g. "Dine In-0001"). Counters start at 1 and never repeat,
// even under concurrent callers.
func (s *Service) NextOrderNumber(ctx context.Context, orderType string) (string, error) {
	orderType = strings.TrimSpace(orderType)
	if orderType == "" {
		return "", ErrBadOrderType
	}
	doc, err := s.store.Collection(OrderCounters).FindOneAndUpdate(ctx,
		store.Filter{store.IDField: orderType},
		store.Update{"$inc": map[string]any{"count": 1}},
		store.WithUpsert(true), store.WithReturnNew(true))
	if err != nil {
		return "", fmt.Errorf("order counter %q: %w", orderType, err)
	}
	n, ok := doc["count"].(float64)
	if !ok {
		return "", fmt.Errorf("order counter %q: count is %T", orderType, doc["count"])
	}
	return fmt.Sprintf("%s-%04d", orderType, int64(n)), nil
}
