// Package eventcache accumulates per-account activity off the firehose in a
// fixed-capacity least-frequently-used map.
package eventcache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultCapacity bounds the account map when no size is configured.
const DefaultCapacity = 500_000

var cacheSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "automod_eventcache_accounts",
	Help: "Accounts currently tracked in the event cache.",
})

var cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_eventcache_evictions_total",
	Help: "Accounts evicted from the event cache.",
})

var eventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_eventcache_events_total",
	Help: "Events folded into account records, by kind.",
}, []string{"kind"})

// Event variants. Exactly one member of Event is non-nil.

type PostEvent struct {
	Path       string
	EmbedCount int
}

type RepostEvent struct {
	SubjectURI string
}

type LikeEvent struct {
	SubjectURI string
}

type FollowEvent struct {
	SubjectDID string
}

type IdentityEvent struct {
	Handle string
}

// Event is one account action observed on the firehose.
type Event struct {
	DID  string
	Time time.Time

	Post     *PostEvent
	Repost   *RepostEvent
	Like     *LikeEvent
	Follow   *FollowEvent
	Identity *IdentityEvent
}

// AccountRecord is the accumulated view of one account's activity. Handles
// returned by GetAccount stay valid after eviction; the cache just stops
// tracking them.
type AccountRecord struct {
	DID        string
	Posts      int64
	Reposts    int64
	Likes      int64
	Follows    int64
	Identities int64
	Embeds     int64
	Handle     string
	LastSeen   time.Time
}

// EraseHook runs synchronously under the cache lock when an account is
// evicted. It must not call back into the cache.
type EraseHook func(did string, account *AccountRecord)

type entry struct {
	record *AccountRecord
	freq   int
	bucket *list.Element // position in the freq bucket's order list
}

// EventCache is a fixed-capacity LFU map from DID to account record.
// Frequency is the number of Record calls for the DID; ties evict in the
// order accounts reached the shared frequency, which for never-repeated
// accounts is insertion order.
type EventCache struct {
	lk       sync.Mutex
	capacity int
	onErase  EraseHook
	logger   *slog.Logger

	entries map[string]*entry
	buckets map[int]*list.List // freq -> DIDs in arrival order
	minFreq int
}

func NewEventCache(capacity int, onErase EraseHook, logger *slog.Logger) *EventCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventCache{
		capacity: capacity,
		onErase:  onErase,
		logger:   logger.With("subsystem", "eventcache"),
		entries:  make(map[string]*entry),
		buckets:  make(map[int]*list.List),
	}
}

// Record folds one event into the account's record, creating or promoting the
// entry. Evicts the least-frequently-seen account when at capacity.
func (c *EventCache) Record(ev Event) {
	c.lk.Lock()
	defer c.lk.Unlock()

	e, ok := c.entries[ev.DID]
	if !ok {
		if len(c.entries) >= c.capacity {
			c.evictLocked()
		}
		e = &entry{
			record: &AccountRecord{DID: ev.DID},
		}
		c.entries[ev.DID] = e
		c.placeLocked(e, 1)
		c.minFreq = 1
		cacheSize.Set(float64(len(c.entries)))
	} else {
		c.promoteLocked(e)
	}

	c.applyLocked(e.record, ev)
}

// GetAccount returns the shared record handle for the DID, nil when
// untracked. Lookups do not change eviction order.
func (c *EventCache) GetAccount(did string) *AccountRecord {
	c.lk.Lock()
	defer c.lk.Unlock()
	e, ok := c.entries[did]
	if !ok {
		return nil
	}
	return e.record
}

// Len returns the number of tracked accounts.
func (c *EventCache) Len() int {
	c.lk.Lock()
	defer c.lk.Unlock()
	return len(c.entries)
}

func (c *EventCache) applyLocked(rec *AccountRecord, ev Event) {
	if ev.Time.After(rec.LastSeen) {
		rec.LastSeen = ev.Time
	}
	switch {
	case ev.Post != nil:
		rec.Posts++
		rec.Embeds += int64(ev.Post.EmbedCount)
		eventsRecorded.WithLabelValues("post").Inc()
	case ev.Repost != nil:
		rec.Reposts++
		eventsRecorded.WithLabelValues("repost").Inc()
	case ev.Like != nil:
		rec.Likes++
		eventsRecorded.WithLabelValues("like").Inc()
	case ev.Follow != nil:
		rec.Follows++
		eventsRecorded.WithLabelValues("follow").Inc()
	case ev.Identity != nil:
		rec.Identities++
		rec.Handle = ev.Identity.Handle
		eventsRecorded.WithLabelValues("identity").Inc()
	}
}

func (c *EventCache) placeLocked(e *entry, freq int) {
	b, ok := c.buckets[freq]
	if !ok {
		b = list.New()
		c.buckets[freq] = b
	}
	e.freq = freq
	e.bucket = b.PushBack(e.record.DID)
}

func (c *EventCache) promoteLocked(e *entry) {
	b := c.buckets[e.freq]
	b.Remove(e.bucket)
	if b.Len() == 0 {
		delete(c.buckets, e.freq)
		if c.minFreq == e.freq {
			c.minFreq = e.freq + 1
		}
	}
	c.placeLocked(e, e.freq+1)
}

func (c *EventCache) evictLocked() {
	b, ok := c.buckets[c.minFreq]
	for !ok {
		// minFreq can lag after deletes; walk up to the next occupied bucket
		c.minFreq++
		b, ok = c.buckets[c.minFreq]
	}
	front := b.Front()
	did := front.Value.(string)
	e := c.entries[did]
	b.Remove(front)
	if b.Len() == 0 {
		delete(c.buckets, e.freq)
	}
	delete(c.entries, did)
	cacheEvictions.Inc()
	cacheSize.Set(float64(len(c.entries)))
	if c.onErase != nil {
		c.onErase(did, e.record)
	}
	c.logger.Debug("account evicted", "did", did, "freq", e.freq, "lastSeen", e.record.LastSeen)
}
