package usecase

import (
	"sort"
	"sync"
	"time"

	"github.com/vitos/crypto_quote_cache/internal/domain"
)

// slots is a concurrent map whose entries are replaced atomically when a predicate
// accepts the new value over the current one.
type slots[K comparable, V comparable] struct {
	m sync.Map
}

func (s *slots[K, V]) Load(key K) (V, bool) {
	v, ok := s.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Update stores value when the key is empty or replace(current, value) holds.
func (s *slots[K, V]) Update(key K, value V, replace func(current, next V) bool) bool {
	for {
		current, loaded := s.m.LoadOrStore(key, value)
		if !loaded {
			return true
		}
		if !replace(current.(V), value) {
			return false
		}
		if s.m.CompareAndSwap(key, current, value) {
			return true
		}
	}
}

// notEarlier is the freshness rule: ties go to the newer write.
func notEarlier(current, next time.Time) bool {
	return !next.Before(current)
}

func newerTrade(current, next *domain.Trade) bool {
	return notEarlier(current.Time, next.Time)
}

func newerBook(current, next *domain.Book) bool {
	return notEarlier(current.Time, next.Time)
}

func newerBar(current, next *domain.Bar) bool {
	return notEarlier(current.Time, next.Time)
}

// betterBid keeps the book whose best bid is strictly higher, or replaces an unusable one.
func betterBid(current, next *domain.Book) bool {
	cur := current.BestBid()
	return cur.IsZero() || next.BestBid().Price.Cmp(cur.Price) > 0
}

// betterAsk keeps the book whose best ask is strictly lower, or replaces an unusable one.
func betterAsk(current, next *domain.Book) bool {
	cur := current.BestAsk()
	return cur.IsZero() || next.BestAsk().Price.Cmp(cur.Price) < 0
}

type barKey struct {
	symbol   string
	interval time.Duration
}

// marketSet is the set of venue instruments quoting one asset pair.
type marketSet struct {
	mu      sync.RWMutex
	members map[string]*domain.Instrument
}

func (m *marketSet) add(inst *domain.Instrument) {
	key := inst.Symbol()
	m.mu.RLock()
	_, ok := m.members[key]
	m.mu.RUnlock()
	if ok {
		return
	}
	m.mu.Lock()
	m.members[key] = inst
	m.mu.Unlock()
}

func (m *marketSet) list() []*domain.Instrument {
	m.mu.RLock()
	out := make([]*domain.Instrument, 0, len(m.members))
	for _, inst := range m.members {
		out = append(out, inst)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol() < out[j].Symbol() })
	return out
}
