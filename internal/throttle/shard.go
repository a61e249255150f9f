package throttle

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

type conditionShard struct {
	mu      sync.RWMutex
	records map[string]time.Time
}

type entityShard struct {
	mu    sync.RWMutex
	flags map[string]*entityFlag
}

// entityFlag is raised while at least one condition under the entity is live.
// expiresAt is the latest expiry among its conditions.
type entityFlag struct {
	expiresAt  time.Time
	conditions map[string]time.Time
}

func (s *Store) conditionShard(key string) *conditionShard {
	return &s.conditions[shardIndex(key, len(s.conditions))]
}

func (s *Store) entityShard(key string) *entityShard {
	return &s.entities[shardIndex(key, len(s.entities))]
}

func shardIndex(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}

func (sh *conditionShard) get(key string) (time.Time, bool) {
	sh.mu.RLock()
	expiresAt, ok := sh.records[key]
	sh.mu.RUnlock()
	return expiresAt, ok
}

func (sh *conditionShard) put(key string, expiresAt time.Time) {
	sh.mu.Lock()
	sh.records[key] = expiresAt
	sh.mu.Unlock()
}

func (sh *conditionShard) remove(key string) {
	sh.mu.Lock()
	delete(sh.records, key)
	sh.mu.Unlock()
}

func (sh *conditionShard) evict(now time.Time) int {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	evicted := 0
	for key, expiresAt := range sh.records {
		if !expiresAt.After(now) {
			delete(sh.records, key)
			evicted++
		}
	}
	return evicted
}

func (sh *conditionShard) len() int {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.records)
}

func (sh *entityShard) get(key string) (time.Time, bool) {
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	flag, ok := sh.flags[key]
	if !ok {
		return time.Time{}, false
	}
	return flag.expiresAt, true
}

func (sh *entityShard) raise(entityKey, conditionKey string, expiresAt time.Time) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	flag, ok := sh.flags[entityKey]
	if !ok {
		flag = &entityFlag{conditions: make(map[string]time.Time, 1)}
		sh.flags[entityKey] = flag
	}
	// Members mirror the condition records so eviction drops them together.
	flag.conditions[conditionKey] = expiresAt
	flag.expiresAt = latest(flag.conditions)
}

func (sh *entityShard) lower(entityKey, conditionKey string) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	flag, ok := sh.flags[entityKey]
	if !ok {
		return
	}
	delete(flag.conditions, conditionKey)
	if len(flag.conditions) == 0 {
		delete(sh.flags, entityKey)
		return
	}
	flag.expiresAt = latest(flag.conditions)
}

func (sh *entityShard) drop(entityKey string) {
	sh.mu.Lock()
	delete(sh.flags, entityKey)
	sh.mu.Unlock()
}

func (sh *entityShard) evict(now time.Time) int {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	evicted := 0
	for entityKey, flag := range sh.flags {
		for conditionKey, expiresAt := range flag.conditions {
			if !expiresAt.After(now) {
				delete(flag.conditions, conditionKey)
			}
		}
		if len(flag.conditions) == 0 {
			delete(sh.flags, entityKey)
			evicted++
			continue
		}
		flag.expiresAt = latest(flag.conditions)
	}
	return evicted
}

func (sh *entityShard) len() int {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.flags)
}

func latest(conditions map[string]time.Time) time.Time {
	var result time.Time
	for _, expiresAt := range conditions {
		if expiresAt.After(result) {
			result = expiresAt
		}
	}
	return result
}
