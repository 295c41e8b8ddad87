package ratelimit

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const shardCount = 32

// Decision is the outcome of a single limiter check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int

	// ResetAt is when the oldest counted timestamp leaves the window,
	// freeing one slot. Meaningful for denied decisions; for allowed
	// decisions it reports when the just-recorded hit ages out.
	ResetAt time.Time

	// RetryAfter is zero for allowed decisions. For denied decisions it is
	// rounded up to whole seconds plus one, so a client sleeping exactly
	// RetryAfter is guaranteed a free slot.
	RetryAfter time.Duration
}

// Headers renders the decision as standard rate-limit response headers.
// Retry-After is only present on denied decisions.
func (d Decision) Headers() http.Header {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(d.RetryAfter/time.Second)))
	}
	return h
}

// window is a per-key timestamp log. Eviction advances head instead of
// reslicing so the front drop is O(1) amortized; the backing array is
// compacted once head passes the midpoint.
type window struct {
	stamps []time.Time
	head   int
}

func (w *window) evict(cutoff time.Time) {
	for w.head < len(w.stamps) && !w.stamps[w.head].After(cutoff) {
		w.head++
	}
	if w.head > len(w.stamps)/2 && w.head > 16 {
		w.stamps = append(w.stamps[:0], w.stamps[w.head:]...)
		w.head = 0
	}
}

func (w *window) count() int {
	return len(w.stamps) - w.head
}

func (w *window) oldest() time.Time {
	return w.stamps[w.head]
}

func (w *window) newest() time.Time {
	return w.stamps[len(w.stamps)-1]
}

type shard struct {
	mu   sync.Mutex
	keys map[string]*window
}

// Limiter is a sliding-window rate limiter. The zero value is not usable;
// construct with [New]. All methods are safe for concurrent use; checks on
// the same key serialize on that key's shard, checks on different shards
// run fully in parallel.
type Limiter struct {
	shards [shardCount]shard
	clock  func() time.Time
}

// New creates a [Limiter] using the wall clock.
func New() *Limiter {
	return NewWithClock(time.Now)
}

// NewWithClock creates a [Limiter] with an injected clock. Tests use this to
// step time without sleeping.
func NewWithClock(clock func() time.Time) *Limiter {
	l := &Limiter{clock: clock}
	for i := range l.shards {
		l.shards[i].keys = make(map[string]*window)
	}
	return l
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%shardCount]
}

// Check evicts timestamps older than the trailing window, records the
// current call if the key is under limit, and returns the decision. A
// non-positive limit or window is a programming error, not an operational
// condition, and panics.
func (l *Limiter) Check(key string, limit int, windowSize time.Duration) Decision {
	if limit <= 0 {
		panic(fmt.Sprintf("ratelimit: non-positive limit %d", limit))
	}
	if windowSize <= 0 {
		panic(fmt.Sprintf("ratelimit: non-positive window %v", windowSize))
	}

	now := l.clock()
	s := l.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.keys[key]
	if w == nil {
		w = &window{}
		s.keys[key] = w
	}
	w.evict(now.Add(-windowSize))

	count := w.count()
	if count < limit {
		w.stamps = append(w.stamps, now)
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - count - 1,
			ResetAt:   w.oldest().Add(windowSize),
		}
	}

	resetAt := w.oldest().Add(windowSize)
	retry := resetAt.Sub(now)
	retrySeconds := int64(retry / time.Second)
	if retry%time.Second != 0 {
		retrySeconds++
	}
	retrySeconds++

	return Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: time.Duration(retrySeconds) * time.Second,
	}
}

// Reset clears the timestamp log for a single key.
func (l *Limiter) Reset(key string) {
	s := l.shardFor(key)
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

// ResetAll clears every tracked key.
func (l *Limiter) ResetAll() {
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		s.keys = make(map[string]*window)
		s.mu.Unlock()
	}
}

// Cleanup drops keys whose newest timestamp is older than maxAge, bounding
// memory under high key cardinality (per-IP keys from a scan, for example).
// Returns the number of keys evicted. Intended to be called periodically;
// skipping it only costs memory, never correctness.
func (l *Limiter) Cleanup(maxAge time.Duration) int {
	cutoff := l.clock().Add(-maxAge)
	evicted := 0

	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, w := range s.keys {
			if w.count() == 0 || !w.newest().After(cutoff) {
				delete(s.keys, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}

	return evicted
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	total := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		total += len(s.keys)
		s.mu.Unlock()
	}
	return total
}
