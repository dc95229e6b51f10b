package services

import (
	"errors"
	"sort"
	"sync"
	"time"

	"postauction-system/internal/domain"
)

// ErrNotPending is returned by Update when the key has no entry.
var ErrNotPending = errors.New("key is not pending")

type pendingEntry[V any] struct {
	value  V
	expiry time.Time
}

// PendingList is a time-indexed store keyed by (auctionId, adSpotId).
// Keys are kept in a sorted index so campaign events that know only the
// auction can be completed to a full key deterministically. Every entry
// carries an expiry instant consumed by Expire.
type PendingList[V any] struct {
	mu      sync.Mutex
	entries map[domain.EventKey]*pendingEntry[V]
	keys    []domain.EventKey
}

func NewPendingList[V any]() *PendingList[V] {
	return &PendingList[V]{
		entries: make(map[domain.EventKey]*pendingEntry[V]),
	}
}

// Insert stores value under key with the given expiry, replacing any
// existing entry.
func (p *PendingList[V]) Insert(key domain.EventKey, value V, expiry time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[key]; !ok {
		i := p.searchKey(key)
		p.keys = append(p.keys, domain.EventKey{})
		copy(p.keys[i+1:], p.keys[i:])
		p.keys[i] = key
	}
	p.entries[key] = &pendingEntry[V]{value: value, expiry: expiry}
}

// Update replaces the value in place, leaving the expiry unchanged. The
// caller guarantees presence; an absent key is an error.
func (p *PendingList[V]) Update(key domain.EventKey, value V) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		return ErrNotPending
	}
	entry.value = value
	return nil
}

func (p *PendingList[V]) Get(key domain.EventKey) (V, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (p *PendingList[V]) Contains(key domain.EventKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.entries[key]
	return ok
}

// Pop removes the entry and returns its value.
func (p *PendingList[V]) Pop(key domain.EventKey) (V, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	p.removeLocked(key)
	return entry.value, true
}

// CompletePrefix returns the smallest stored key whose auction id
// matches. Ties between several ad spots break toward the smallest spot
// id through the sorted index.
func (p *PendingList[V]) CompletePrefix(auctionID domain.ID) (domain.EventKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	probe := domain.EventKey{AuctionID: auctionID}
	i := p.searchKey(probe)
	if i < len(p.keys) && p.keys[i].AuctionID == auctionID {
		return p.keys[i], true
	}
	return domain.EventKey{}, false
}

// Expire visits every entry whose expiry is at or before now, in key
// order. The sweeper may retain an entry by returning a new expiry with
// retain=true; otherwise the entry is removed. Sweeper callbacks run
// outside the list lock and may re-enter the list.
func (p *PendingList[V]) Expire(now time.Time, sweeper func(key domain.EventKey, value V) (time.Time, bool)) {
	p.mu.Lock()
	var expired []domain.EventKey
	for _, key := range p.keys {
		if !p.entries[key].expiry.After(now) {
			expired = append(expired, key)
		}
	}
	p.mu.Unlock()

	for _, key := range expired {
		p.mu.Lock()
		entry, ok := p.entries[key]
		p.mu.Unlock()
		if !ok || entry.expiry.After(now) {
			// Popped or refreshed by a sweeper callback.
			continue
		}

		newExpiry, retain := sweeper(key, entry.value)

		p.mu.Lock()
		if current, ok := p.entries[key]; ok && current == entry {
			if retain {
				current.expiry = newExpiry
			} else {
				p.removeLocked(key)
			}
		}
		p.mu.Unlock()
	}
}

func (p *PendingList[V]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}

func (p *PendingList[V]) searchKey(key domain.EventKey) int {
	return sort.Search(len(p.keys), func(i int) bool {
		return !p.keys[i].Less(key)
	})
}

func (p *PendingList[V]) removeLocked(key domain.EventKey) {
	delete(p.entries, key)
	i := p.searchKey(key)
	if i < len(p.keys) && p.keys[i] == key {
		p.keys = append(p.keys[:i], p.keys[i+1:]...)
	}
}

// findAuction resolves a possibly spot-less key against a pending list.
// When adSpotID is empty the key is completed through the sorted index.
func findAuction[V any](pending *PendingList[V], auctionID, adSpotID domain.ID) (domain.EventKey, V, bool) {
	key := domain.EventKey{AuctionID: auctionID, AdSpotID: adSpotID}
	if !adSpotID.Present() {
		completed, ok := pending.CompletePrefix(auctionID)
		if !ok {
			var zero V
			return key, zero, false
		}
		key = completed
	}

	value, ok := pending.Get(key)
	return key, value, ok
}
