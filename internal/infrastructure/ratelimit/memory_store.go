package ratelimit

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// window is the ordered list of admitted request times for one key
type window struct {
	mu    sync.Mutex
	times []int64 // unix nanos, ascending
	dead  bool    // removed from the map by Sweep
}

// prune drops timestamps older than now-width
func (w *window) prune(now int64, width time.Duration) {
	cutoff := now - int64(width)
	i := sort.Search(len(w.times), func(i int) bool { return w.times[i] >= cutoff })
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}

func (w *window) result(req Request, now time.Time) Result {
	count := len(w.times)
	r := Result{
		Dimension: req.Dimension,
		Key:       req.Key,
		Limit:     req.Limit.Requests,
		Allowed:   count < req.Limit.Requests,
		Remaining: max(req.Limit.Requests-count, 0),
	}
	if !r.Allowed && count > 0 {
		r.RetryAfter = retryAfter(time.Unix(0, w.times[0]), req.Limit.Window, now)
	}
	return r
}

// MemoryStore keeps windows in process. Windows are not shared between
// gateway instances.
type MemoryStore struct {
	windows *xsync.Map[string, *window]
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: xsync.NewMap[string, *window]()}
}

func (s *MemoryStore) load(key string) *window {
	w, _ := s.windows.LoadOrCompute(key, func() (*window, bool) {
		return &window{}, false
	})
	return w
}

// Check implements Store
func (s *MemoryStore) Check(_ context.Context, req Request, now time.Time) (Result, error) {
	for {
		w := s.load(req.StoreKey())
		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}
		w.prune(now.UnixNano(), req.Limit.Window)
		r := w.result(req, now)
		w.mu.Unlock()
		return r, nil
	}
}

// Admit implements Store. Windows are locked in key order so concurrent
// admissions over overlapping dimensions cannot deadlock.
func (s *MemoryStore) Admit(ctx context.Context, reqs []Request, now time.Time) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	order := make([]int, len(reqs))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		return strings.Compare(reqs[a].StoreKey(), reqs[b].StoreKey())
	})

	for {
		windows, ok := s.lockAll(reqs, order)
		if !ok {
			continue
		}
		decision := s.admitLocked(reqs, windows, now)
		for i := len(order) - 1; i >= 0; i-- {
			if w := windows[order[i]]; w != nil {
				w.mu.Unlock()
			}
		}
		return decision, nil
	}
}

// lockAll locks the window of every request. Requests that share a key share
// one window, which is locked once. Windows are resolved before any lock is
// taken so no map operation runs while a window is held. ok is false when a
// window was swept in between; everything is unlocked and the caller retries.
func (s *MemoryStore) lockAll(reqs []Request, order []int) ([]*window, bool) {
	windows := make([]*window, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for _, idx := range order {
		key := reqs[idx].StoreKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		windows[idx] = s.load(key)
	}

	for n, idx := range order {
		w := windows[idx]
		if w == nil {
			continue
		}
		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			for i := n - 1; i >= 0; i-- {
				if lw := windows[order[i]]; lw != nil {
					lw.mu.Unlock()
				}
			}
			return nil, false
		}
	}
	return windows, true
}

func (s *MemoryStore) admitLocked(reqs []Request, windows []*window, now time.Time) Decision {
	nanos := now.UnixNano()
	byKey := make(map[string]*window, len(reqs))
	for i, w := range windows {
		if w != nil {
			byKey[reqs[i].StoreKey()] = w
		}
	}

	decision := Decision{Allowed: true, Results: make([]Result, len(reqs))}
	for i, req := range reqs {
		w := byKey[req.StoreKey()]
		w.prune(nanos, req.Limit.Window)
		r := w.result(req, now)
		decision.Results[i] = r
		if !r.Allowed && decision.Allowed {
			decision.Allowed = false
			denied := r
			decision.Denied = &denied
		}
	}
	if !decision.Allowed {
		return decision
	}

	for _, w := range byKey {
		w.times = append(w.times, nanos)
	}
	for i := range decision.Results {
		if decision.Results[i].Remaining > 0 {
			decision.Results[i].Remaining--
		}
	}
	return decision
}

// Sweep removes windows that have no timestamps left inside maxWindow.
// It returns the number of windows removed.
func (s *MemoryStore) Sweep(now time.Time, maxWindow time.Duration) int {
	removed := 0
	nanos := now.UnixNano()
	s.windows.Range(func(key string, _ *window) bool {
		s.windows.Compute(key, func(w *window, loaded bool) (*window, xsync.ComputeOp) {
			if !loaded {
				return w, xsync.CancelOp
			}
			w.mu.Lock()
			defer w.mu.Unlock()
			w.prune(nanos, maxWindow)
			if len(w.times) > 0 {
				return w, xsync.CancelOp
			}
			w.dead = true
			removed++
			return w, xsync.DeleteOp
		})
		return true
	})
	return removed
}

// Len returns the number of tracked windows
func (s *MemoryStore) Len() int {
	return s.windows.Size()
}

var _ Store = (*MemoryStore)(nil)
