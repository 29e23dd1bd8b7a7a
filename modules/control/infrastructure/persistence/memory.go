package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
)

// In-memory implementations of every port. They back the unit tests and the
// no-database handler path; the locking mirrors the atomicity the Postgres
// stores get from constraints and row locks.

type MemoryAssetStore struct {
	mu     sync.Mutex
	assets map[string]map[string]types.Asset // projectID -> externalID -> asset
}

func NewMemoryAssetStore() *MemoryAssetStore {
	return &MemoryAssetStore{assets: make(map[string]map[string]types.Asset)}
}

func (s *MemoryAssetStore) Put(asset types.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assets[asset.ProjectID] == nil {
		s.assets[asset.ProjectID] = make(map[string]types.Asset)
	}
	if asset.AssetID == "" {
		asset.AssetID = uuid.NewString()
	}
	s.assets[asset.ProjectID][asset.ExternalID] = asset
}

func (s *MemoryAssetStore) GetAsset(ctx context.Context, projectID string, externalID string) (types.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[projectID][externalID]
	if !ok {
		return types.Asset{}, types.NewAssetNotFound(externalID)
	}
	return asset, nil
}

func (s *MemoryAssetStore) SetControlMode(ctx context.Context, projectID string, externalID string, mode types.ControlMode) (types.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[projectID][externalID]
	if !ok {
		return types.Asset{}, types.NewAssetNotFound(externalID)
	}
	asset.Mode = mode
	s.assets[projectID][externalID] = asset
	return asset, nil
}

type MemoryPolicyStore struct {
	mu       sync.Mutex
	policies map[string][]types.Policy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string][]types.Policy)}
}

func (s *MemoryPolicyStore) CurrentPolicy(ctx context.Context, projectID string) (types.Policy, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.policies[projectID]
	if len(all) == 0 {
		return types.Policy{}, false, nil
	}
	current := all[0]
	for _, p := range all[1:] {
		if p.ActiveFrom.After(current.ActiveFrom) {
			current = p
		}
	}
	return current, true, nil
}

func (s *MemoryPolicyStore) PutPolicy(ctx context.Context, projectID string, version string, body types.PolicyBody, activeFrom time.Time) (types.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	policy := types.Policy{
		PolicyID:   uuid.NewString(),
		ProjectID:  projectID,
		Version:    version,
		Body:       body,
		ActiveFrom: activeFrom,
	}
	s.policies[projectID] = append(s.policies[projectID], policy)
	return policy, nil
}

type MemoryKillSwitchStore struct {
	mu     sync.Mutex
	states map[string]types.KillSwitchState
}

func NewMemoryKillSwitchStore() *MemoryKillSwitchStore {
	return &MemoryKillSwitchStore{states: make(map[string]types.KillSwitchState)}
}

func (s *MemoryKillSwitchStore) State(ctx context.Context, projectID string) (types.KillSwitchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[projectID]
	if !ok {
		return types.KillSwitchState{ProjectID: projectID}, nil
	}
	return state, nil
}

func (s *MemoryKillSwitchStore) Toggle(ctx context.Context, projectID string, active bool, actor string, reason string, at time.Time) (types.KillSwitchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := types.KillSwitchState{
		ProjectID:   projectID,
		Active:      active,
		ActivatedBy: actor,
		ActivatedAt: at,
		Reason:      reason,
	}
	s.states[projectID] = state
	return state, nil
}

type memoryLedgerRecord struct {
	fingerprint string
	decision    *types.Decision
	firstSeenAt time.Time
}

// MemoryIdempotencyStore keeps records for a bounded replay window; expired
// keys behave as never seen.
type MemoryIdempotencyStore struct {
	mu           sync.Mutex
	records      map[string]memoryLedgerRecord // assetID+"\x00"+key
	replayWindow time.Duration
}

func NewMemoryIdempotencyStore(replayWindow time.Duration) *MemoryIdempotencyStore {
	if replayWindow <= 0 {
		replayWindow = 24 * time.Hour
	}
	return &MemoryIdempotencyStore{
		records:      make(map[string]memoryLedgerRecord),
		replayWindow: replayWindow,
	}
}

func ledgerKey(assetID string, key string) string {
	return assetID + "\x00" + key
}

func (s *MemoryIdempotencyStore) CheckAndReserve(ctx context.Context, assetID string, key string, payloadFingerprint string, now time.Time) (ports.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := ledgerKey(assetID, key)
	if rec, ok := s.records[k]; ok {
		if now.Sub(rec.firstSeenAt) > s.replayWindow {
			delete(s.records, k)
		} else {
			if rec.fingerprint != payloadFingerprint {
				return ports.Reservation{State: ports.ReservationConflict}, nil
			}
			if rec.decision == nil {
				return ports.Reservation{State: ports.ReservationPending}, nil
			}
			return ports.Reservation{State: ports.ReservationReplay, CachedDecision: *rec.decision}, nil
		}
	}
	s.records[k] = memoryLedgerRecord{fingerprint: payloadFingerprint, firstSeenAt: now}
	return ports.Reservation{State: ports.ReservationFresh}, nil
}

func (s *MemoryIdempotencyStore) Commit(ctx context.Context, assetID string, key string, decision types.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ledgerKey(assetID, key)
	rec, ok := s.records[k]
	if !ok {
		return nil
	}
	rec.decision = &decision
	s.records[k] = rec
	return nil
}

func (s *MemoryIdempotencyStore) Release(ctx context.Context, assetID string, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ledgerKey(assetID, key)
	if rec, ok := s.records[k]; ok && rec.decision == nil {
		delete(s.records, k)
	}
	return nil
}

// MemoryRateLimiter counts accepted commands in a sliding window per asset.
// The whole check-and-append runs under one lock, so two concurrent requests
// can never both pass the same last slot.
type MemoryRateLimiter struct {
	mu    sync.Mutex
	slots map[string][]time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{slots: make(map[string][]time.Time)}
}

func (l *MemoryRateLimiter) ReserveSlot(ctx context.Context, assetID string, limit int, window time.Duration, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-window)
	kept := l.slots[assetID][:0]
	for _, t := range l.slots[assetID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		l.slots[assetID] = kept
		return false, nil
	}
	l.slots[assetID] = append(kept, now)
	return true, nil
}

type MemoryScheduleStore struct {
	mu        sync.Mutex
	schedules map[string][]types.Schedule // assetID -> all schedules, oldest first
}

func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{schedules: make(map[string][]types.Schedule)}
}

func (s *MemoryScheduleStore) Activate(ctx context.Context, projectID string, assetID string, commandID string, steps []types.ScheduleStep, at time.Time) (types.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sched := range s.schedules[assetID] {
		if sched.Status == types.ScheduleActive {
			sched.Status = types.ScheduleSuperseded
			sched.SupersededAt = at
			s.schedules[assetID][i] = sched
		}
	}
	schedule := types.Schedule{
		ScheduleID:  uuid.NewString(),
		ProjectID:   projectID,
		AssetID:     assetID,
		CommandID:   commandID,
		Steps:       append([]types.ScheduleStep(nil), steps...),
		Status:      types.ScheduleActive,
		ActivatedAt: at,
	}
	s.schedules[assetID] = append(s.schedules[assetID], schedule)
	return schedule, nil
}

func (s *MemoryScheduleStore) ActiveSchedule(ctx context.Context, projectID string, assetID string) (types.Schedule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sched := range s.schedules[assetID] {
		if sched.Status == types.ScheduleActive {
			return sched, true, nil
		}
	}
	return types.Schedule{}, false, nil
}

// History returns every schedule ever stored for the asset, oldest first.
// Test helper; the public read path is ActiveSchedule.
func (s *MemoryScheduleStore) History(assetID string) []types.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Schedule, len(s.schedules[assetID]))
	copy(out, s.schedules[assetID])
	return out
}

type MemoryAuditStore struct {
	mu      sync.Mutex
	entries []types.AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(ctx context.Context, entry types.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of everything appended, in insertion order. Test
// helper; the public read path is Query.
func (s *MemoryAuditStore) Entries() []types.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *MemoryAuditStore) Query(ctx context.Context, projectID string, filter types.AuditFilter, cursor string, pageSize int) (types.AuditPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []types.AuditEntry
	for _, e := range s.entries {
		if e.ProjectID != projectID {
			continue
		}
		if !auditFilterMatches(filter, e) {
			continue
		}
		matched = append(matched, e)
	}
	// Newest first; UUIDv7 audit IDs sort chronologically.
	sort.Slice(matched, func(i, j int) bool { return matched[i].AuditID > matched[j].AuditID })

	start := 0
	if cursor != "" {
		c, err := decodeAuditCursor(cursor, filter)
		if err != nil {
			return types.AuditPage{}, err
		}
		for i, e := range matched {
			if e.AuditID < c.LastID {
				start = i
				break
			}
			start = len(matched)
		}
	}

	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	page := types.AuditPage{Entries: matched[start:end]}
	if end < len(matched) && end > start {
		page.NextCursor = encodeAuditCursor(auditCursor{
			LastID:     matched[end-1].AuditID,
			FilterHash: hashAuditFilter(filter),
		})
	}
	return page, nil
}

func auditFilterMatches(f types.AuditFilter, e types.AuditEntry) bool {
	if f.Actor != "" && !strings.EqualFold(f.Actor, e.Actor) {
		return false
	}
	if f.AssetID != "" && f.AssetID != e.AssetID {
		return false
	}
	if f.Decision != "" && f.Decision != e.Decision {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// MemoryCredentialResolver maps raw API keys to principals. Only tests and
// local runs use it; production deployments inject a resolver backed by the
// credential service.
type MemoryCredentialResolver struct {
	mu         sync.Mutex
	principals map[string]types.Principal
}

func NewMemoryCredentialResolver() *MemoryCredentialResolver {
	return &MemoryCredentialResolver{principals: make(map[string]types.Principal)}
}

func (r *MemoryCredentialResolver) Register(credential string, principal types.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.principals[credential] = principal
}

func (r *MemoryCredentialResolver) Resolve(ctx context.Context, credential string) (types.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	principal, ok := r.principals[credential]
	if !ok {
		return types.Principal{}, ports.ErrUnknownCredential
	}
	return principal, nil
}

type MemoryProjectDirectory struct {
	mu       sync.Mutex
	projects map[string]string // code -> projectID
}

func NewMemoryProjectDirectory() *MemoryProjectDirectory {
	return &MemoryProjectDirectory{projects: make(map[string]string)}
}

func (d *MemoryProjectDirectory) Register(code string, projectID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projects[code] = projectID
}

func (d *MemoryProjectDirectory) ProjectIDByCode(ctx context.Context, code string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	projectID, ok := d.projects[code]
	if !ok {
		return "", ports.ErrProjectNotFound
	}
	return projectID, nil
}
