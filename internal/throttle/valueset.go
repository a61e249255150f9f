package throttle

import "sync"

// valueSet is a membership set for state that changes only on administrative action.
type valueSet struct {
	mu     sync.RWMutex
	values map[string]struct{}
}

func newValueSet() *valueSet {
	return &valueSet{values: make(map[string]struct{})}
}

func (v *valueSet) set(value string, present bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, exists := v.values[value]
	if present {
		v.values[value] = struct{}{}
		return !exists
	}
	delete(v.values, value)
	return exists
}

func (v *valueSet) has(value string) bool {
	v.mu.RLock()
	_, ok := v.values[value]
	v.mu.RUnlock()
	return ok
}

func (v *valueSet) len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.values)
}
