// Package throttle holds the node-local mirror of control-plane throttle state
// that the gateway request path consults on every call.
package throttle

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/throttle-sync/internal/domain"
	"github.com/kursadbilgin/throttle-sync/internal/keyparser"
)

const defaultShardCount = 32

// ClearPolicy decides what happens to an entity flag when one of its conditions is cleared.
type ClearPolicy string

const (
	// ClearCounted drops the entity flag once no live condition remains under it.
	ClearCounted ClearPolicy = "counted"
	// ClearEager drops the entity flag on any clear under it.
	ClearEager ClearPolicy = "eager"
)

func (p ClearPolicy) String() string { return string(p) }

func (p ClearPolicy) IsValid() bool {
	switch p {
	case ClearCounted, ClearEager:
		return true
	}
	return false
}

func ParseClearPolicy(s string) (ClearPolicy, error) {
	p := ClearPolicy(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid aggregate clear policy %q", domain.ErrValidation, s)
	}
	return p, nil
}

// EntityKeyFunc maps a condition key to the entity it throttles.
type EntityKeyFunc func(conditionKey string) (string, bool)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithClearPolicy(policy ClearPolicy) Option {
	return func(s *Store) {
		if policy.IsValid() {
			s.clearPolicy = policy
		}
	}
}

func WithEntityKeyFunc(fn EntityKeyFunc) Option {
	return func(s *Store) {
		if fn != nil {
			s.entityKey = fn
		}
	}
}

func WithShardCount(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// Store is safe for concurrent use. Throttle records and entity flags live in
// hash-sharded maps; blocking conditions and key templates each sit behind
// their own lock because they change rarely.
type Store struct {
	conditions []conditionShard
	entities   []entityShard
	blocking   map[domain.BlockingCategory]*valueSet
	templates  *valueSet

	shardCount  int
	now         func() time.Time
	clearPolicy ClearPolicy
	entityKey   EntityKeyFunc
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		shardCount:  defaultShardCount,
		now:         time.Now,
		clearPolicy: ClearCounted,
		entityKey:   keyparser.Parse,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.conditions = make([]conditionShard, s.shardCount)
	s.entities = make([]entityShard, s.shardCount)
	for i := range s.conditions {
		s.conditions[i].records = make(map[string]time.Time)
		s.entities[i].flags = make(map[string]*entityFlag)
	}

	s.blocking = make(map[domain.BlockingCategory]*valueSet, len(domain.BlockingCategories))
	for _, category := range domain.BlockingCategories {
		s.blocking[category] = newValueSet()
	}
	s.templates = newValueSet()

	return s
}

func (s *Store) ClearPolicy() ClearPolicy { return s.clearPolicy }

// SetThrottled records conditionKey as throttled until expiresAt and raises the
// flag of its entity. It returns the entity key, or "" when the condition key
// has no recognizable entity.
func (s *Store) SetThrottled(conditionKey string, expiresAt time.Time) string {
	s.conditionShard(conditionKey).put(conditionKey, expiresAt)

	entityKey, ok := s.entityKey(conditionKey)
	if !ok {
		return ""
	}
	s.entityShard(entityKey).raise(entityKey, conditionKey, expiresAt)
	return entityKey
}

// ClearThrottled removes the condition record and, depending on the clear
// policy, the flag of its entity. It returns the entity key, or "".
func (s *Store) ClearThrottled(conditionKey string) string {
	s.conditionShard(conditionKey).remove(conditionKey)

	entityKey, ok := s.entityKey(conditionKey)
	if !ok {
		return ""
	}

	shard := s.entityShard(entityKey)
	if s.clearPolicy == ClearEager {
		shard.drop(entityKey)
	} else {
		shard.lower(entityKey, conditionKey)
	}
	return entityKey
}

func (s *Store) IsConditionThrottled(conditionKey string) bool {
	expiresAt, ok := s.conditionShard(conditionKey).get(conditionKey)
	return ok && expiresAt.After(s.now())
}

func (s *Store) IsEntityThrottled(entityKey string) bool {
	expiresAt, ok := s.entityShard(entityKey).get(entityKey)
	return ok && expiresAt.After(s.now())
}

// SetBlockingCondition adds or removes value from the category's blocking set.
// It reports whether the set changed; unknown categories are ignored.
func (s *Store) SetBlockingCondition(category domain.BlockingCategory, value string, enabled bool) bool {
	set, ok := s.blocking[category]
	if !ok {
		return false
	}
	return set.set(value, enabled)
}

func (s *Store) IsBlocked(category domain.BlockingCategory, value string) bool {
	set, ok := s.blocking[category]
	if !ok {
		return false
	}
	return set.has(value)
}

func (s *Store) IsApplicationBlocked(value string) bool {
	return s.IsBlocked(domain.BlockingApplication, value)
}

func (s *Store) IsAPIBlocked(value string) bool {
	return s.IsBlocked(domain.BlockingAPI, value)
}

func (s *Store) IsUserBlocked(value string) bool {
	return s.IsBlocked(domain.BlockingUser, value)
}

func (s *Store) IsAddressBlocked(value string) bool {
	return s.IsBlocked(domain.BlockingAddress, value)
}

// SetKeyTemplate activates or deactivates a policy key template and reports
// whether anything changed.
func (s *Store) SetKeyTemplate(value string, active bool) bool {
	return s.templates.set(value, active)
}

func (s *Store) IsKeyTemplateActive(value string) bool {
	return s.templates.has(value)
}
