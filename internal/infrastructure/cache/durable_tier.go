package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/xpgateway/backend/internal/infrastructure/storage"
)

const (
	durableKeyPrefix = "responses/"
	metaExpiresAt    = "expires-at"
	metaStatus       = "status"
)

// DurableTier keeps long-lived entries in an object store. Objects carry
// their expiry in metadata so bucket lifecycle rules can reap them.
type DurableTier struct {
	store storage.ObjectStore
	now   func() time.Time
}

// NewDurableTier creates a durable tier on store
func NewDurableTier(store storage.ObjectStore) *DurableTier {
	return &DurableTier{store: store, now: time.Now}
}

// Name implements Tier
func (t *DurableTier) Name() string { return "durable" }

// Get implements Tier. Expired objects are removed and reported as misses.
func (t *DurableTier) Get(ctx context.Context, key string) (*Entry, bool, error) {
	obj, err := t.store.Get(ctx, durableKeyPrefix+key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read durable entry: %w", err)
	}

	if exp, ok := parseExpiry(obj.Metadata); ok && !t.now().Before(exp) {
		_ = t.store.Delete(ctx, durableKeyPrefix+key)
		return nil, false, nil
	}

	var e Entry
	if err := json.Unmarshal(obj.Data, &e); err != nil {
		return nil, false, fmt.Errorf("failed to decode durable entry: %w", err)
	}
	return &e, true, nil
}

// Set implements Tier
func (t *DurableTier) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode durable entry: %w", err)
	}
	expires := t.now().Add(ttl)
	return t.store.Put(ctx, durableKeyPrefix+key, storage.Object{
		Data:        data,
		ContentType: "application/json",
		Metadata: map[string]string{
			metaExpiresAt: strconv.FormatInt(expires.Unix(), 10),
			metaStatus:    strconv.Itoa(entry.Status),
		},
	})
}

// Delete implements Tier
func (t *DurableTier) Delete(ctx context.Context, keys ...string) error {
	var errs []error
	for _, k := range keys {
		if err := t.store.Delete(ctx, durableKeyPrefix+k); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func parseExpiry(meta map[string]string) (time.Time, bool) {
	raw, ok := meta[metaExpiresAt]
	if !ok {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

var _ Tier = (*DurableTier)(nil)
