package ports

import (
	"context"
	"errors"
	"time"

	"github.com/gridlume/gridlume/modules/control/domain/types"
)

// ErrUnknownCredential is returned by CredentialResolver implementations when
// the presented credential does not resolve to any client. The engine maps it
// to a scope denial; any other resolver error is treated as internal.
var ErrUnknownCredential = errors.New("unknown credential")

// ErrProjectNotFound is returned by ProjectDirectory implementations for
// codes that resolve to no tenant.
var ErrProjectNotFound = errors.New("project not found")

// CredentialResolver turns an opaque credential (an API key as presented by
// the caller) into a Principal. Key storage, hashing and decryption are the
// resolver's concern; the engine never touches raw secrets.
type CredentialResolver interface {
	Resolve(ctx context.Context, credential string) (types.Principal, error)
}

type AssetStore interface {
	// GetAsset returns the asset by external ID within the project, or a
	// types.AssetNotFoundError.
	GetAsset(ctx context.Context, projectID string, externalID string) (types.Asset, error)
	// SetControlMode atomically switches the asset's mode. The change is
	// visible to every command evaluated after it commits.
	SetControlMode(ctx context.Context, projectID string, externalID string, mode types.ControlMode) (types.Asset, error)
}

type PolicyStore interface {
	// CurrentPolicy returns the newest policy for the project; ok is false
	// when no policy is configured (the policy tier then passes).
	CurrentPolicy(ctx context.Context, projectID string) (types.Policy, bool, error)
	PutPolicy(ctx context.Context, projectID string, version string, body types.PolicyBody, activeFrom time.Time) (types.Policy, error)
}

type KillSwitchStore interface {
	State(ctx context.Context, projectID string) (types.KillSwitchState, error)
	// Toggle upserts the per-project row under a row lock so concurrent
	// toggles serialize per project.
	Toggle(ctx context.Context, projectID string, active bool, actor string, reason string, at time.Time) (types.KillSwitchState, error)
}

// ReservationState is the outcome of an idempotency check-and-reserve.
type ReservationState int

const (
	// ReservationFresh means no prior record existed and this caller holds
	// the reservation; it must Commit the decision it computes.
	ReservationFresh ReservationState = iota
	// ReservationReplay means an identical payload was seen before; the
	// cached decision is returned verbatim.
	ReservationReplay
	// ReservationConflict means the key was reused with a different payload.
	ReservationConflict
	// ReservationPending means another submission with the same key and
	// payload reserved the key but has not committed yet.
	ReservationPending
)

type Reservation struct {
	State          ReservationState
	CachedDecision types.Decision
}

type IdempotencyStore interface {
	// CheckAndReserve is atomic per (assetID, key): of any number of
	// concurrent submissions with the same key, exactly one observes Fresh.
	CheckAndReserve(ctx context.Context, assetID string, key string, payloadFingerprint string, now time.Time) (Reservation, error)
	// Commit stores the decision for later replays. Must be called exactly
	// once after a Fresh reservation.
	Commit(ctx context.Context, assetID string, key string, decision types.Decision) error
	// Release drops an uncommitted reservation so the caller's retry can
	// run fresh. Used only when evaluation failed with an internal error:
	// internal failures are not decisions and must not be replayed.
	Release(ctx context.Context, assetID string, key string) error
}

type RateLimiter interface {
	// ReserveSlot atomically counts accepted commands for the asset inside
	// the sliding window ending at now and, if the count is below limit,
	// records a new slot. Returns false when the limit is exhausted.
	ReserveSlot(ctx context.Context, assetID string, limit int, window time.Duration, now time.Time) (bool, error)
}

type AuditStore interface {
	// Append adds one immutable entry. There is deliberately no update or
	// delete on this interface.
	Append(ctx context.Context, entry types.AuditEntry) error
	// Query returns entries for the project, newest first, filtered and
	// paginated by an opaque cursor.
	Query(ctx context.Context, projectID string, filter types.AuditFilter, cursor string, pageSize int) (types.AuditPage, error)
}

// ScheduleStore keeps accepted schedules per asset.
type ScheduleStore interface {
	// Activate stores the accepted schedule as the asset's active one and
	// marks the previously active schedule, if any, superseded. Both writes
	// happen in one transaction.
	Activate(ctx context.Context, projectID string, assetID string, commandID string, steps []types.ScheduleStep, at time.Time) (types.Schedule, error)
	// ActiveSchedule returns the asset's active schedule; ok is false when
	// none has been accepted yet.
	ActiveSchedule(ctx context.Context, projectID string, assetID string) (types.Schedule, bool, error)
}

// RelaySink receives accepted commands for eventual device delivery. Dispatch
// is fire-and-forget from the gate's point of view: a relay error is logged
// by the sink's owner, never surfaced to the submitting caller.
type RelaySink interface {
	Dispatch(ctx context.Context, asset types.Asset, command types.Command, commandID string) error
}

// ProjectDirectory resolves public project codes to tenant IDs for the HTTP
// layer.
type ProjectDirectory interface {
	ProjectIDByCode(ctx context.Context, code string) (string, error)
}
