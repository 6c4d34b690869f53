package dedup

import (
	"container/list"
	"sync"
	"time"

	"mail-notifier/internal/models"
)

// DefaultCapacity is the number of identifiers kept per account.
const DefaultCapacity = 1000

// DefaultPendingLimit bounds the records waiting for a flush. The oldest are
// dropped first when a store stays unavailable.
const DefaultPendingLimit = 10000

// accountSet keeps identifiers in insertion order so the oldest can be evicted.
type accountSet struct {
	order *list.List
	index map[string]*list.Element
}

func newAccountSet() *accountSet {
	return &accountSet{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Cache is a per-account bounded set of processed message identifiers. It is
// safe for concurrent use. New identifiers are queued for Drain only once
// TrackPending has been called.
type Cache struct {
	mu         sync.Mutex
	capacity   int
	accounts   map[string]*accountSet
	tracking   bool
	maxPending int
	pending    []models.ProcessedRecord
	now        func() time.Time
}

// NewCache returns a Cache holding at most capacity identifiers per account.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		accounts: make(map[string]*accountSet),
		now:      time.Now,
	}
}

// IsNew reports whether messageID has not been recorded for accountID.
func (c *Cache) IsNew(accountID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.accounts[accountID]
	if !ok {
		return true
	}
	_, seen := set.index[messageID]
	return !seen
}

// Record adds messageID for accountID, evicting the oldest identifiers once
// the account exceeds the capacity.
func (c *Cache) Record(accountID, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.insert(accountID, messageID) {
		c.queue(accountID, messageID)
	}
}

// CheckAndRecord records messageID and reports whether it was new, as one
// atomic step.
func (c *Cache) CheckAndRecord(accountID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.insert(accountID, messageID) {
		return false
	}
	c.queue(accountID, messageID)
	return true
}

// TrackPending starts queueing new identifiers for a durable store, keeping at
// most limit of them (DefaultPendingLimit when limit <= 0).
func (c *Cache) TrackPending(limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	c.tracking = true
	c.maxPending = limit
}

// Pending returns the number of records waiting for Drain.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Preload seeds the cache with records from a durable store. Preloaded
// records are not queued for persistence again.
func (c *Cache) Preload(records []models.ProcessedRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		c.insert(r.AccountID, r.MessageID)
	}
}

// Drain returns and clears the records added since the last Drain.
func (c *Cache) Drain() []models.ProcessedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.pending
	c.pending = nil
	return out
}

// Requeue puts records back for the next Drain, after a failed flush.
func (c *Cache) Requeue(records []models.ProcessedRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tracking {
		return
	}
	c.pending = append(records, c.pending...)
	c.trimPending()
}

// Len returns the number of identifiers held for accountID.
func (c *Cache) Len(accountID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if set, ok := c.accounts[accountID]; ok {
		return set.order.Len()
	}
	return 0
}

// insert must be called with c.mu held. It reports whether the id was added.
func (c *Cache) insert(accountID, messageID string) bool {
	set, ok := c.accounts[accountID]
	if !ok {
		set = newAccountSet()
		c.accounts[accountID] = set
	}
	if _, seen := set.index[messageID]; seen {
		return false
	}

	set.index[messageID] = set.order.PushBack(messageID)
	for set.order.Len() > c.capacity {
		oldest := set.order.Front()
		set.order.Remove(oldest)
		delete(set.index, oldest.Value.(string))
	}
	return true
}

// queue must be called with c.mu held.
func (c *Cache) queue(accountID, messageID string) {
	if !c.tracking {
		return
	}
	c.pending = append(c.pending, models.ProcessedRecord{
		AccountID:   accountID,
		MessageID:   messageID,
		ProcessedAt: c.now(),
	})
	c.trimPending()
}

// trimPending drops the oldest queued records beyond maxPending.
func (c *Cache) trimPending() {
	if over := len(c.pending) - c.maxPending; over > 0 {
		c.pending = append([]models.ProcessedRecord(nil), c.pending[over:]...)
	}
}
