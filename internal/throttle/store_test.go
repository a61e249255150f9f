package throttle

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/throttle-sync/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStoreSetThrottledRaisesConditionAndEntity(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))

	entity := store.SetThrottled("/t/1.0:1.0_condition_0", clock.Now().Add(time.Minute))
	if entity != "/t/1.0" {
		t.Fatalf("SetThrottled() entity = %q, want /t/1.0", entity)
	}
	if !store.IsConditionThrottled("/t/1.0:1.0_condition_0") {
		t.Fatal("condition should be throttled")
	}
	if !store.IsEntityThrottled("/t/1.0") {
		t.Fatal("entity should be throttled")
	}

	entity = store.ClearThrottled("/t/1.0:1.0_condition_0")
	if entity != "/t/1.0" {
		t.Fatalf("ClearThrottled() entity = %q, want /t/1.0", entity)
	}
	if store.IsConditionThrottled("/t/1.0:1.0_condition_0") {
		t.Fatal("condition should not be throttled after clear")
	}
	if store.IsEntityThrottled("/t/1.0") {
		t.Fatal("entity should not be throttled after its only condition is cleared")
	}
}

func TestStoreSetThrottledIsIdempotent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))
	expiresAt := clock.Now().Add(time.Minute)

	store.SetThrottled("/a/1:1_condition_0", expiresAt)
	once := store.Stats()

	for i := 0; i < 5; i++ {
		store.SetThrottled("/a/1:1_condition_0", expiresAt)
	}
	again := store.Stats()

	if once.Conditions != again.Conditions || once.Entities != again.Entities {
		t.Fatalf("stats after repeats = %+v, want %+v", again, once)
	}
	if !store.IsConditionThrottled("/a/1:1_condition_0") || !store.IsEntityThrottled("/a/1") {
		t.Fatal("condition and entity should remain throttled")
	}

	store.ClearThrottled("/a/1:1_condition_0")
	if store.IsEntityThrottled("/a/1") {
		t.Fatal("a single clear should undo any number of identical sets")
	}
}

func TestStoreCountedPolicyKeepsEntityWhileConditionsRemain(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))

	store.SetThrottled("/a/1:1_condition_0", clock.Now().Add(time.Minute))
	store.SetThrottled("/a/1:1_condition_1", clock.Now().Add(2*time.Minute))
	if !store.IsEntityThrottled("/a/1") {
		t.Fatal("entity should be throttled after both conditions")
	}

	store.ClearThrottled("/a/1:1_condition_0")
	if !store.IsEntityThrottled("/a/1") {
		t.Fatal("entity should stay throttled while condition_1 is live")
	}
	if store.IsConditionThrottled("/a/1:1_condition_0") {
		t.Fatal("condition_0 should be cleared")
	}

	store.ClearThrottled("/a/1:1_condition_1")
	if store.IsEntityThrottled("/a/1") {
		t.Fatal("entity should clear with its last condition")
	}
}

func TestStoreEagerPolicyClearsEntityOnAnyClear(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now), WithClearPolicy(ClearEager))
	if store.ClearPolicy() != ClearEager {
		t.Fatalf("ClearPolicy() = %s, want eager", store.ClearPolicy())
	}

	store.SetThrottled("/a/1:1_condition_0", clock.Now().Add(time.Minute))
	store.SetThrottled("/a/1:1_condition_1", clock.Now().Add(time.Minute))

	store.ClearThrottled("/a/1:1_condition_0")
	if store.IsEntityThrottled("/a/1") {
		t.Fatal("eager policy should clear the entity on the first clear")
	}
	if !store.IsConditionThrottled("/a/1:1_condition_1") {
		t.Fatal("condition_1 record should be untouched")
	}
}

func TestStoreEntityExpiryIsNeverShortened(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))

	store.SetThrottled("/a/1:1_condition_0", clock.Now().Add(10*time.Minute))
	store.SetThrottled("/a/1:1_condition_1", clock.Now().Add(time.Minute))

	clock.Advance(5 * time.Minute)
	if store.IsConditionThrottled("/a/1:1_condition_1") {
		t.Fatal("condition_1 should read expired")
	}
	if !store.IsEntityThrottled("/a/1") {
		t.Fatal("entity should follow the longest-lived condition")
	}
}

func TestStoreEntityFlagFollowsReorderedConditionEvents(t *testing.T) {
	t.Parallel()

	for _, policy := range []ClearPolicy{ClearCounted, ClearEager} {
		policy := policy
		t.Run(policy.String(), func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			store := NewStore(WithClock(clock.Now), WithClearPolicy(policy))

			// A later-expiry event overtaken by an older, earlier-expiry one.
			store.SetThrottled("/a/1:1_condition_0", clock.Now().Add(10*time.Minute))
			store.SetThrottled("/a/1:1_condition_0", clock.Now().Add(time.Minute))

			clock.Advance(2 * time.Minute)
			got := store.EvictExpired()
			if got.Conditions != 1 || got.Entities != 1 {
				t.Fatalf("EvictExpired() = %+v, want 1 condition and 1 entity", got)
			}
			if store.IsConditionThrottled("/a/1:1_condition_0") {
				t.Fatal("condition should follow its latest event")
			}
			if store.IsEntityThrottled("/a/1") {
				t.Fatal("entity flag must not outlive its conditions")
			}

			clock.Advance(time.Second)
			store.EvictExpired()
			if stats := store.Stats(); stats.Conditions != 0 || stats.Entities != 0 {
				t.Fatalf("stats = %+v, want empty store", stats)
			}
		})
	}
}

func TestStoreEntityFlagDroppedWithLastRecordOnSweep(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))

	store.SetThrottled("/a/1:1_condition_0", clock.Now().Add(10*time.Minute))
	store.SetThrottled("/a/1:1_condition_1", clock.Now().Add(time.Minute))
	store.SetThrottled("/a/1:1_condition_0", clock.Now().Add(3*time.Minute))

	clock.Advance(2 * time.Minute)
	store.EvictExpired()
	if !store.IsEntityThrottled("/a/1") {
		t.Fatal("entity should stay throttled while condition_0 is live")
	}

	clock.Advance(2 * time.Minute)
	if store.IsEntityThrottled("/a/1") {
		t.Fatal("entity should read expired once every record has expired")
	}
	if got := store.EvictExpired(); got.Entities != 1 {
		t.Fatalf("EvictExpired() = %+v, want the entity flag evicted", got)
	}
}

func TestStoreUnparseableKeyRecordedWithoutEntity(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))

	entity := store.SetThrottled("app:42:user", clock.Now().Add(time.Minute))
	if entity != "" {
		t.Fatalf("SetThrottled() entity = %q, want empty", entity)
	}
	if !store.IsConditionThrottled("app:42:user") {
		t.Fatal("unparseable condition should still be recorded")
	}
	if got := store.Stats().Entities; got != 0 {
		t.Fatalf("entities = %d, want 0", got)
	}
}

func TestStoreReadsUnknownKeysAsFalse(t *testing.T) {
	t.Parallel()

	store := NewStore()
	if store.IsConditionThrottled("missing") || store.IsEntityThrottled("missing") {
		t.Fatal("unknown throttle keys should read false")
	}
	if store.IsBlocked(domain.BlockingCategory("tenant"), "x") {
		t.Fatal("unknown category should read false")
	}
	if store.SetBlockingCondition(domain.BlockingCategory("tenant"), "x", true) {
		t.Fatal("unknown category should not change state")
	}
	if store.IsKeyTemplateActive("$userId") {
		t.Fatal("unknown template should read false")
	}
	store.ClearThrottled("/a/1:1_condition_0")
}

func TestStoreBlockingSetsAreIndependent(t *testing.T) {
	t.Parallel()

	store := NewStore()

	if !store.SetBlockingCondition(domain.BlockingApplication, "V", true) {
		t.Fatal("first enable should report a change")
	}
	if store.SetBlockingCondition(domain.BlockingApplication, "V", true) {
		t.Fatal("repeated enable should not report a change")
	}

	if !store.IsApplicationBlocked("V") {
		t.Fatal("application V should be blocked")
	}
	if store.IsAPIBlocked("V") || store.IsUserBlocked("V") || store.IsAddressBlocked("V") {
		t.Fatal("other categories should not see application V")
	}

	store.SetBlockingCondition(domain.BlockingAddress, "10.0.0.1", true)
	store.SetBlockingCondition(domain.BlockingApplication, "V", false)
	if store.IsApplicationBlocked("V") {
		t.Fatal("application V should be unblocked")
	}
	if !store.IsAddressBlocked("10.0.0.1") {
		t.Fatal("address block should survive application changes")
	}

	stats := store.Stats()
	if stats.Blocking[domain.BlockingAddress] != 1 || stats.Blocking[domain.BlockingApplication] != 0 {
		t.Fatalf("blocking stats = %v", stats.Blocking)
	}
}

func TestStoreKeyTemplates(t *testing.T) {
	t.Parallel()

	store := NewStore()

	store.SetKeyTemplate("$userId:$apiContext", true)
	if !store.IsKeyTemplateActive("$userId:$apiContext") {
		t.Fatal("template should be active")
	}
	if got := store.Stats().KeyTemplates; got != 1 {
		t.Fatalf("templates = %d, want 1", got)
	}

	store.SetKeyTemplate("$userId:$apiContext", false)
	if store.IsKeyTemplateActive("$userId:$apiContext") {
		t.Fatal("template should be inactive")
	}
}

func TestStoreEvictExpired(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))

	store.SetThrottled("/a/1:1_condition_0", clock.Now().Add(time.Second))
	store.SetThrottled("/b/2:2_condition_0", clock.Now().Add(time.Hour))
	store.SetThrottled("/b/2:2_condition_1", clock.Now().Add(time.Second))

	if got := store.EvictExpired(); got != (Eviction{}) {
		t.Fatalf("EvictExpired() before expiry = %+v, want none", got)
	}

	clock.Advance(time.Second)
	got := store.EvictExpired()
	if got.Conditions != 2 || got.Entities != 1 {
		t.Fatalf("EvictExpired() = %+v, want 2 conditions and 1 entity", got)
	}

	if store.IsConditionThrottled("/a/1:1_condition_0") || store.IsEntityThrottled("/a/1") {
		t.Fatal("expired condition and its entity should be gone")
	}
	if !store.IsEntityThrottled("/b/2") {
		t.Fatal("entity with a live condition should remain")
	}

	stats := store.Stats()
	if stats.Conditions != 1 || stats.Entities != 1 {
		t.Fatalf("stats = %+v, want 1 condition and 1 entity", stats)
	}
}

func TestStoreWithEntityKeyFunc(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(
		WithClock(clock.Now),
		WithShardCount(1),
		WithEntityKeyFunc(func(key string) (string, bool) { return "all", true }),
	)

	store.SetThrottled("x", clock.Now().Add(time.Minute))
	if !store.IsEntityThrottled("all") {
		t.Fatal("custom entity key func should be used")
	}
}

func TestParseClearPolicy(t *testing.T) {
	t.Parallel()

	if p, err := ParseClearPolicy(" Eager "); err != nil || p != ClearEager {
		t.Fatalf("ParseClearPolicy(eager) = %s, %v", p, err)
	}
	if p, err := ParseClearPolicy("counted"); err != nil || p != ClearCounted {
		t.Fatalf("ParseClearPolicy(counted) = %s, %v", p, err)
	}
	if _, err := ParseClearPolicy("refcount"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))
	expiresAt := clock.Now().Add(time.Hour)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("/api%d/1:1_condition_%d", w, i%4)
				store.SetThrottled(key, expiresAt)
				if i%3 == 0 {
					store.ClearThrottled(key)
				}
				store.SetBlockingCondition(domain.BlockingUser, key, i%2 == 0)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				store.IsConditionThrottled(fmt.Sprintf("/api%d/1:1_condition_%d", w, i%4))
				store.IsEntityThrottled(fmt.Sprintf("/api%d/1", w))
				store.IsUserBlocked("u")
				store.EvictExpired()
			}
		}()
	}
	wg.Wait()

	for w := 0; w < 8; w++ {
		store.SetThrottled(fmt.Sprintf("/api%d/1:1_default", w), expiresAt)
		if !store.IsEntityThrottled(fmt.Sprintf("/api%d/1", w)) {
			t.Fatalf("entity /api%d/1 should be throttled", w)
		}
	}
}
