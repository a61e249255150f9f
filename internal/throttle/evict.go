package throttle

import "github.com/kursadbilgin/throttle-sync/internal/domain"

// Eviction counts what one EvictExpired pass removed.
type Eviction struct {
	Conditions int
	Entities   int
}

// EvictExpired removes every throttle record whose expiry is at or before the
// store clock, and every entity flag left without a live condition. Shards are
// locked one at a time so readers of other shards are never held up.
func (s *Store) EvictExpired() Eviction {
	now := s.now()

	var result Eviction
	for i := range s.conditions {
		result.Conditions += s.conditions[i].evict(now)
	}
	for i := range s.entities {
		result.Entities += s.entities[i].evict(now)
	}
	return result
}

// Stats is a point-in-time size report. Counts across shards are not taken
// atomically.
type Stats struct {
	Conditions   int
	Entities     int
	KeyTemplates int
	Blocking     map[domain.BlockingCategory]int
}

func (s *Store) Stats() Stats {
	stats := Stats{
		KeyTemplates: s.templates.len(),
		Blocking:     make(map[domain.BlockingCategory]int, len(s.blocking)),
	}
	for i := range s.conditions {
		stats.Conditions += s.conditions[i].len()
	}
	for i := range s.entities {
		stats.Entities += s.entities[i].len()
	}
	for category, set := range s.blocking {
		stats.Blocking[category] = set.len()
	}
	return stats
}
