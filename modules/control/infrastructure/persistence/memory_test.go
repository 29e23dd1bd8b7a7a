package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
	"github.com/gridlume/gridlume/pkg/httperr"
	"github.com/gridlume/gridlume/pkg/uuidv7"
)

func TestMemoryIdempotencyStore_ExactlyOneFresh(t *testing.T) {
	store := NewMemoryIdempotencyStore(0)
	now := time.Now()

	const workers = 32
	results := make([]ports.ReservationState, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.CheckAndReserve(context.Background(), "a-1", "k-1", "fp-1", now)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = res.State
		}()
	}
	wg.Wait()

	fresh, pending := 0, 0
	for _, s := range results {
		switch s {
		case ports.ReservationFresh:
			fresh++
		case ports.ReservationPending:
			pending++
		default:
			t.Fatalf("unexpected state %v", s)
		}
	}
	if fresh != 1 || pending != workers-1 {
		t.Fatalf("fresh=%d pending=%d", fresh, pending)
	}
}

func TestMemoryIdempotencyStore_Lifecycle(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	ctx := context.Background()
	now := time.Now()

	res, err := store.CheckAndReserve(ctx, "a-1", "k-1", "fp-1", now)
	if err != nil || res.State != ports.ReservationFresh {
		t.Fatalf("res=%+v err=%v", res, err)
	}

	// Different fingerprint under the same key is a conflict even while
	// pending.
	res, err = store.CheckAndReserve(ctx, "a-1", "k-1", "fp-2", now)
	if err != nil || res.State != ports.ReservationConflict {
		t.Fatalf("res=%+v err=%v", res, err)
	}

	decision := types.Allowed("cmd-1")
	if err := store.Commit(ctx, "a-1", "k-1", decision); err != nil {
		t.Fatal(err)
	}

	res, err = store.CheckAndReserve(ctx, "a-1", "k-1", "fp-1", now)
	if err != nil || res.State != ports.ReservationReplay {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if res.CachedDecision.CommandID != "cmd-1" {
		t.Fatalf("cached=%+v", res.CachedDecision)
	}

	// Release only drops uncommitted reservations.
	if err := store.Release(ctx, "a-1", "k-1"); err != nil {
		t.Fatal(err)
	}
	res, _ = store.CheckAndReserve(ctx, "a-1", "k-1", "fp-1", now)
	if res.State != ports.ReservationReplay {
		t.Fatalf("committed record must survive release: %+v", res)
	}

	res, _ = store.CheckAndReserve(ctx, "a-1", "k-2", "fp-1", now)
	if res.State != ports.ReservationFresh {
		t.Fatalf("res=%+v", res)
	}
	if err := store.Release(ctx, "a-1", "k-2"); err != nil {
		t.Fatal(err)
	}
	res, _ = store.CheckAndReserve(ctx, "a-1", "k-2", "fp-1", now)
	if res.State != ports.ReservationFresh {
		t.Fatalf("released reservation must be reusable: %+v", res)
	}
}

func TestMemoryIdempotencyStore_ReplayWindowExpiry(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	ctx := context.Background()
	start := time.Now()

	res, _ := store.CheckAndReserve(ctx, "a-1", "k-1", "fp-1", start)
	if res.State != ports.ReservationFresh {
		t.Fatalf("res=%+v", res)
	}
	if err := store.Commit(ctx, "a-1", "k-1", types.Allowed("cmd-1")); err != nil {
		t.Fatal(err)
	}

	res, _ = store.CheckAndReserve(ctx, "a-1", "k-1", "fp-1", start.Add(2*time.Hour))
	if res.State != ports.ReservationFresh {
		t.Fatalf("expired key must behave as never seen: %+v", res)
	}
}

func TestMemoryRateLimiter_SlidingWindow(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	ctx := context.Background()
	base := time.Now()

	for i, offset := range []time.Duration{0, 10 * time.Second, 20 * time.Second} {
		ok, err := limiter.ReserveSlot(ctx, "a-1", 3, time.Minute, base.Add(offset))
		if err != nil || !ok {
			t.Fatalf("slot %d: ok=%v err=%v", i, ok, err)
		}
	}

	ok, err := limiter.ReserveSlot(ctx, "a-1", 3, time.Minute, base.Add(25*time.Second))
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}

	// Other assets have their own budget.
	ok, err = limiter.ReserveSlot(ctx, "a-2", 3, time.Minute, base.Add(25*time.Second))
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}

	ok, err = limiter.ReserveSlot(ctx, "a-1", 3, time.Minute, base.Add(70*time.Second))
	if err != nil || !ok {
		t.Fatalf("slot after expiry: ok=%v err=%v", ok, err)
	}
}

func appendEntries(t *testing.T, store *MemoryAuditStore, n int) []types.AuditEntry {
	t.Helper()
	base := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	entries := make([]types.AuditEntry, 0, n)
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		id, err := uuidv7.NewAt(ts)
		if err != nil {
			t.Fatal(err)
		}
		decision := types.OutcomeAllowed
		if i%2 == 1 {
			decision = types.OutcomeDenied
		}
		e := types.AuditEntry{
			AuditID:     id.String(),
			Timestamp:   ts,
			Actor:       "client-a",
			ProjectID:   "p-1",
			AssetID:     "a-1",
			Action:      "realtime_command",
			Decision:    decision,
			UserMessage: "msg",
		}
		if err := store.Append(context.Background(), e); err != nil {
			t.Fatal(err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestMemoryAuditStore_PaginatesNewestFirst(t *testing.T) {
	store := NewMemoryAuditStore()
	appended := appendEntries(t, store, 5)
	ctx := context.Background()

	page1, err := store.Query(ctx, "p-1", types.AuditFilter{}, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page1.Entries) != 2 || page1.NextCursor == "" {
		t.Fatalf("page1=%+v", page1)
	}
	if page1.Entries[0].AuditID != appended[4].AuditID || page1.Entries[1].AuditID != appended[3].AuditID {
		t.Fatalf("page1 order wrong: %+v", page1.Entries)
	}

	page2, err := store.Query(ctx, "p-1", types.AuditFilter{}, page1.NextCursor, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Entries) != 2 || page2.Entries[0].AuditID != appended[2].AuditID {
		t.Fatalf("page2=%+v", page2)
	}

	page3, err := store.Query(ctx, "p-1", types.AuditFilter{}, page2.NextCursor, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page3.Entries) != 1 || page3.NextCursor != "" {
		t.Fatalf("page3=%+v", page3)
	}

	seen := map[string]bool{}
	for _, p := range [][]types.AuditEntry{page1.Entries, page2.Entries, page3.Entries} {
		for _, e := range p {
			if seen[e.AuditID] {
				t.Fatalf("duplicate entry %s across pages", e.AuditID)
			}
			seen[e.AuditID] = true
		}
	}
	if len(seen) != 5 {
		t.Fatalf("seen=%d", len(seen))
	}
}

func TestMemoryAuditStore_Filters(t *testing.T) {
	store := NewMemoryAuditStore()
	appendEntries(t, store, 6)
	ctx := context.Background()

	page, err := store.Query(ctx, "p-1", types.AuditFilter{Decision: types.OutcomeDenied}, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 3 {
		t.Fatalf("entries=%d", len(page.Entries))
	}
	for _, e := range page.Entries {
		if e.Decision != types.OutcomeDenied {
			t.Fatalf("entry=%+v", e)
		}
	}

	page, err = store.Query(ctx, "p-1", types.AuditFilter{Actor: "CLIENT-A"}, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 6 {
		t.Fatalf("actor filter should be case-insensitive: %d", len(page.Entries))
	}

	page, err = store.Query(ctx, "p-other", types.AuditFilter{}, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 0 {
		t.Fatalf("entries=%d", len(page.Entries))
	}
}

func TestMemoryAuditStore_CursorRejectsFilterChange(t *testing.T) {
	store := NewMemoryAuditStore()
	appendEntries(t, store, 4)
	ctx := context.Background()

	page, err := store.Query(ctx, "p-1", types.AuditFilter{}, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Query(ctx, "p-1", types.AuditFilter{Decision: types.OutcomeDenied}, page.NextCursor, 2)
	if err == nil {
		t.Fatal("expected cursor rejection after filter change")
	}
	if !httperr.IsBadRequest(err) || httperr.BadRequestParam(err) != "cursor" {
		t.Fatalf("err=%v", err)
	}

	_, err = store.Query(ctx, "p-1", types.AuditFilter{}, "not-base64!", 2)
	if err == nil {
		t.Fatal("expected error for malformed cursor")
	}
	if !httperr.IsBadRequest(err) || httperr.BadRequestParam(err) != "cursor" {
		t.Fatalf("err=%v", err)
	}
}

func TestMemoryScheduleStore_Supersedes(t *testing.T) {
	s := NewMemoryScheduleStore()
	ctx := context.Background()
	base := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	if _, ok, err := s.ActiveSchedule(ctx, "p-1", "a-1"); err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}

	first, err := s.Activate(ctx, "p-1", "a-1", "cmd-1", []types.ScheduleStep{{Time: "20:00", Dim: 60}}, base)
	if err != nil || first.Status != types.ScheduleActive {
		t.Fatalf("first=%+v err=%v", first, err)
	}

	second, err := s.Activate(ctx, "p-1", "a-1", "cmd-2", []types.ScheduleStep{{Time: "21:00", Dim: 40}}, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	active, ok, err := s.ActiveSchedule(ctx, "p-1", "a-1")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if active.ScheduleID != second.ScheduleID || active.CommandID != "cmd-2" {
		t.Fatalf("active=%+v", active)
	}

	history := s.History("a-1")
	if len(history) != 2 {
		t.Fatalf("history=%d", len(history))
	}
	if history[0].Status != types.ScheduleSuperseded || !history[0].SupersededAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("superseded=%+v", history[0])
	}

	// Schedules on other assets stay untouched.
	if _, ok, _ := s.ActiveSchedule(ctx, "p-1", "a-2"); ok {
		t.Fatal("unexpected schedule for another asset")
	}
}

func TestMemoryCredentialResolver(t *testing.T) {
	r := NewMemoryCredentialResolver()
	r.Register("key-1", types.Principal{ClientID: "c-1", ProjectID: "p-1"})

	p, err := r.Resolve(context.Background(), "key-1")
	if err != nil || p.ClientID != "c-1" {
		t.Fatalf("p=%+v err=%v", p, err)
	}
	if _, err := r.Resolve(context.Background(), "nope"); err != ports.ErrUnknownCredential {
		t.Fatalf("err=%v", err)
	}
}

func TestMemoryProjectDirectory(t *testing.T) {
	d := NewMemoryProjectDirectory()
	d.Register("acme-west", "p-1")

	id, err := d.ProjectIDByCode(context.Background(), "acme-west")
	if err != nil || id != "p-1" {
		t.Fatalf("id=%q err=%v", id, err)
	}
	if _, err := d.ProjectIDByCode(context.Background(), "missing"); err != ports.ErrProjectNotFound {
		t.Fatalf("err=%v", err)
	}
}

func TestMemoryAssetStore(t *testing.T) {
	s := NewMemoryAssetStore()
	s.Put(types.Asset{ProjectID: "p-1", ExternalID: "lum-1", Mode: types.ModeOptimize})

	a, err := s.GetAsset(context.Background(), "p-1", "lum-1")
	if err != nil {
		t.Fatal(err)
	}
	if a.AssetID == "" {
		t.Fatal("Put should assign an ID")
	}

	a, err = s.SetControlMode(context.Background(), "p-1", "lum-1", types.ModePassthrough)
	if err != nil || a.Mode != types.ModePassthrough {
		t.Fatalf("a=%+v err=%v", a, err)
	}

	if _, err := s.GetAsset(context.Background(), "p-1", "lum-2"); !types.IsAssetNotFound(err) {
		t.Fatalf("err=%v", err)
	}
	if _, err := s.GetAsset(context.Background(), "p-2", "lum-1"); !types.IsAssetNotFound(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestMemoryPolicyStore_NewestWins(t *testing.T) {
	s := NewMemoryPolicyStore()
	ctx := context.Background()
	base := time.Now()

	if _, _, err := s.CurrentPolicy(ctx, "p-1"); err != nil {
		t.Fatal(err)
	}
	_, found, _ := s.CurrentPolicy(ctx, "p-1")
	if found {
		t.Fatal("no policy yet")
	}

	if _, err := s.PutPolicy(ctx, "p-1", "v1", types.PolicyBody{}, base); err != nil {
		t.Fatal(err)
	}
	p2, err := s.PutPolicy(ctx, "p-1", "v2", types.PolicyBody{}, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	current, found, err := s.CurrentPolicy(ctx, "p-1")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if current.PolicyID != p2.PolicyID || current.Version != "v2" {
		t.Fatalf("current=%+v", current)
	}
}
