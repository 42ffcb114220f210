// Package countstore tracks how often embedded content identifiers recur
// across the firehose. Counts are monotonic and kept in memory for the
// lifetime of the process.
package countstore

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Category selects one of the independent key spaces.
type Category string

const (
	CategoryImage  Category = "image"
	CategoryVideo  Category = "video"
	CategoryRecord Category = "record"
	CategoryLink   Category = "link"
)

var countInserts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_countstore_inserts_total",
	Help: "First-time keys inserted per category.",
}, []string{"category"})

var countIncrements = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_countstore_increments_total",
	Help: "Repeat observations per category.",
}, []string{"category"})

var countKeys = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "automod_countstore_keys",
	Help: "Distinct keys currently tracked per category.",
}, []string{"category"})

// CountStore is a coarse-locked in-memory frequency map over the four embed
// categories. One mutex covers all categories; contention here is negligible
// next to firehose decode.
type CountStore struct {
	lk     sync.Mutex
	counts map[Category]map[string]int
}

func NewCountStore() *CountStore {
	return &CountStore{
		counts: map[Category]map[string]int{
			CategoryImage:  {},
			CategoryVideo:  {},
			CategoryRecord: {},
			CategoryLink:   {},
		},
	}
}

// InsertOrIncrement records one observation of key in the given category and
// returns the updated count plus whether this was the first observation.
func (s *CountStore) InsertOrIncrement(category Category, key string) (int, bool) {
	s.lk.Lock()
	defer s.lk.Unlock()

	m, ok := s.counts[category]
	if !ok {
		m = map[string]int{}
		s.counts[category] = m
	}
	m[key]++
	count := m[key]
	inserted := count == 1
	if inserted {
		countInserts.WithLabelValues(string(category)).Inc()
		countKeys.WithLabelValues(string(category)).Inc()
	} else {
		countIncrements.WithLabelValues(string(category)).Inc()
	}
	return count, inserted
}

// Get returns the current count for key, zero when never seen.
func (s *CountStore) Get(category Category, key string) int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.counts[category][key]
}

// Size returns the number of distinct keys tracked in the category.
func (s *CountStore) Size(category Category) int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return len(s.counts[category])
}

// Contains reports whether key has been seen at least once in the category.
func (s *CountStore) Contains(category Category, key string) bool {
	return s.Get(category, key) > 0
}

// AlertNeeded reports whether count sits exactly on a geometric milestone of
// the factor: factor, factor squared, factor cubed and so on. Factor must be
// at least 2; a repeated key fires floor(log_factor(N)) alerts over its first
// N observations.
func AlertNeeded(count, factor int) bool {
	if factor < 2 || count < factor {
		return false
	}
	m := factor
	for m < count {
		if m > count/factor {
			return false
		}
		m *= factor
	}
	return m == count
}
