package hashmap

import (
	"github.com/antluqmol1/openid-authentication/internal/task"
	"sync"
	"time"
)

type expiringEntry[T any] struct {
	raw      T
	inserted time.Time
}

// ExpiringMap is a thread safe map whose values exist for a fixed lifetime after they were set
type ExpiringMap[K comparable, V any] struct {
	mtx         sync.RWMutex
	underlying  map[K]*expiringEntry[V]
	lifetime    time.Duration
	cleanupTask *task.RepeatingTask
}

// NewExpiring creates a new expiring map whose values exist for a specific lifetime.
// Expired values are hidden from lookups right away but only removed from memory by the cleanup task scheduled using
// ScheduleCleanupTask.
func NewExpiring[K comparable, V any](lifetime time.Duration) *ExpiringMap[K, V] {
	return &ExpiringMap[K, V]{
		underlying: make(map[K]*expiringEntry[V]),
		lifetime:   lifetime,
	}
}

// ScheduleCleanupTask schedules the task that cleans up expired values in a specific interval.
// A call to StopCleanupTask as soon as the map is no longer needed is highly recommended because it would not be
// garbage collected otherwise.
func (obj *ExpiringMap[K, V]) ScheduleCleanupTask(tick time.Duration) {
	if obj.cleanupTask != nil {
		return
	}
	obj.cleanupTask = task.NewRepeating(func() {
		obj.removeExpired()
	}, tick)
	obj.cleanupTask.Start()
}

// StopCleanupTask stops the cleanup task
func (obj *ExpiringMap[K, V]) StopCleanupTask() {
	if obj.cleanupTask == nil {
		return
	}
	obj.cleanupTask.Stop(true)
	obj.cleanupTask = nil
}

// Lookup returns the value assigned to the given key and a boolean indicating whether a non-expired value was found
func (obj *ExpiringMap[K, V]) Lookup(key K) (V, bool) {
	obj.mtx.RLock()
	defer obj.mtx.RUnlock()
	entry, ok := obj.underlying[key]
	if !ok || obj.isExpired(entry, time.Now()) {
		var zero V
		return zero, false
	}
	return entry.raw, true
}

// Set sets a key-value pair and resets its lifetime
func (obj *ExpiringMap[K, V]) Set(key K, value V) {
	obj.mtx.Lock()
	defer obj.mtx.Unlock()
	obj.underlying[key] = &expiringEntry[V]{
		raw:      value,
		inserted: time.Now(),
	}
}

// Unset deletes the value assigned to given key
func (obj *ExpiringMap[K, V]) Unset(key K) {
	obj.mtx.Lock()
	defer obj.mtx.Unlock()
	delete(obj.underlying, key)
}

// RemoveIf deletes every value the given predicate matches and returns the amount of deleted values
func (obj *ExpiringMap[K, V]) RemoveIf(predicate func(key K, value V) bool) int {
	obj.mtx.Lock()
	defer obj.mtx.Unlock()
	removed := 0
	for key, entry := range obj.underlying {
		if predicate(key, entry.raw) {
			delete(obj.underlying, key)
			removed++
		}
	}
	return removed
}

// Clear clears the whole map (essentially re-creating the underlying map)
func (obj *ExpiringMap[K, V]) Clear() {
	obj.mtx.Lock()
	defer obj.mtx.Unlock()
	obj.underlying = make(map[K]*expiringEntry[V])
}

func (obj *ExpiringMap[K, V]) removeExpired() {
	obj.mtx.Lock()
	defer obj.mtx.Unlock()
	now := time.Now()
	for key, entry := range obj.underlying {
		if obj.isExpired(entry, now) {
			delete(obj.underlying, key)
		}
	}
}

func (obj *ExpiringMap[K, V]) isExpired(entry *expiringEntry[V], now time.Time) bool {
	return now.Sub(entry.inserted) > obj.lifetime
}
