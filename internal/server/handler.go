package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridlume/gridlume/internal/routing"
	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
	"github.com/gridlume/gridlume/modules/control/infrastructure/persistence"
	"github.com/gridlume/gridlume/modules/control/infrastructure/relay"
	"github.com/gridlume/gridlume/modules/control/services"
	"github.com/gridlume/gridlume/pkg/authz"
)

func NewHandler() (http.Handler, error) {
	return NewHandlerWithOptions(HandlerOptions{})
}

// HandlerOptions lets tests and embedders inject store implementations. Nil
// fields default to the Postgres stores when Assets is also nil (one shared
// pool), otherwise to the in-memory stores.
type HandlerOptions struct {
	Projects    ports.ProjectDirectory
	Credentials ports.CredentialResolver
	Assets      ports.AssetStore
	Policies    ports.PolicyStore
	KillSwitch  ports.KillSwitchStore
	Ledger      ports.IdempotencyStore
	Limiter     ports.RateLimiter
	Schedules   ports.ScheduleStore
	Audit       ports.AuditStore
	Relay       ports.RelaySink
	Grants      *authz.Authorizer
	Now         func() time.Time
}

const idempotencyReplayWindow = 24 * time.Hour

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	allowlistPath := os.Getenv("ALLOWLIST_PATH")
	if allowlistPath == "" {
		p, err := defaultAllowlistPath()
		if err != nil {
			return nil, err
		}
		allowlistPath = p
	}

	a, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	var pgPool *pgxpool.Pool
	if opts.Assets == nil {
		pool, err := pgxpool.New(context.Background(), dbDSNFromEnv())
		if err != nil {
			return nil, err
		}
		pgPool = pool
		opts.Assets = persistence.NewAssetPGStore(pgPool)
	}
	if opts.Projects == nil {
		if pgPool != nil {
			opts.Projects = persistence.NewProjectPGStore(pgPool)
		} else {
			opts.Projects = persistence.NewMemoryProjectDirectory()
		}
	}
	if opts.Credentials == nil {
		if pgPool == nil {
			return nil, errors.New("server: missing credential resolver (set HandlerOptions.Credentials or use default PG stores)")
		}
		opts.Credentials = persistence.NewCredentialPGStore(pgPool)
	}
	if opts.Policies == nil {
		if pgPool != nil {
			opts.Policies = persistence.NewPolicyPGStore(pgPool)
		} else {
			opts.Policies = persistence.NewMemoryPolicyStore()
		}
	}
	if opts.KillSwitch == nil {
		if pgPool != nil {
			opts.KillSwitch = persistence.NewKillSwitchPGStore(pgPool)
		} else {
			opts.KillSwitch = persistence.NewMemoryKillSwitchStore()
		}
	}
	if opts.Ledger == nil {
		if pgPool != nil {
			opts.Ledger = persistence.NewIdempotencyPGStore(pgPool, idempotencyReplayWindow)
		} else {
			opts.Ledger = persistence.NewMemoryIdempotencyStore(idempotencyReplayWindow)
		}
	}
	if opts.Limiter == nil {
		if pgPool != nil {
			opts.Limiter = persistence.NewRateLimitPGStore(pgPool)
		} else {
			opts.Limiter = persistence.NewMemoryRateLimiter()
		}
	}
	if opts.Schedules == nil {
		if pgPool != nil {
			opts.Schedules = persistence.NewSchedulePGStore(pgPool)
		} else {
			opts.Schedules = persistence.NewMemoryScheduleStore()
		}
	}
	if opts.Audit == nil {
		if pgPool != nil {
			opts.Audit = persistence.NewAuditPGStore(pgPool)
		} else {
			opts.Audit = persistence.NewMemoryAuditStore()
		}
	}
	if opts.Relay == nil {
		opts.Relay = relay.NewLogSink(nil)
	}
	if opts.Grants == nil {
		grants, err := loadAuthorizer()
		if err != nil {
			return nil, err
		}
		opts.Grants = grants
	}

	gate := services.NewCommandGate(services.GateDeps{
		Scopes:     services.NewScopeAuthorizer(opts.Credentials, opts.Grants),
		Assets:     opts.Assets,
		KillSwitch: services.NewKillSwitch(opts.KillSwitch, opts.Now),
		Guardrails: services.NewGuardrailEvaluator(opts.Policies, opts.Limiter, opts.Now),
		Ledger:     opts.Ledger,
		Policies:   opts.Policies,
		Schedules:  opts.Schedules,
		Audit:      services.NewAuditRecorder(opts.Audit, opts.Now),
		Relay:      opts.Relay,
		Now:        opts.Now,
	})

	router := routing.NewRouter(classifier)

	router.Handle(routing.RouteClassOps, http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))

	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/internal/scopes", http.HandlerFunc(handleScopeCatalogue))

	resolve := projectResolver(opts.Projects)

	router.Handle(routing.RouteClassPublicAPI, http.MethodPost, "/v1/projects/{code}/commands/realtime",
		handleSubmitCommand(gate, resolve, types.CommandRealtime))
	router.Handle(routing.RouteClassPublicAPI, http.MethodPost, "/v1/projects/{code}/commands/schedule",
		handleSubmitCommand(gate, resolve, types.CommandSchedule))
	router.Handle(routing.RouteClassPublicAPI, http.MethodPut, "/v1/projects/{code}/assets/{external_id}/mode",
		handleSetAssetMode(gate, resolve))
	router.Handle(routing.RouteClassPublicAPI, http.MethodGet, "/v1/projects/{code}/kill-switch",
		handleKillSwitchRead(gate, resolve))
	router.Handle(routing.RouteClassPublicAPI, http.MethodPost, "/v1/projects/{code}/kill-switch",
		handleKillSwitchToggle(gate, resolve))
	router.Handle(routing.RouteClassPublicAPI, http.MethodGet, "/v1/projects/{code}/policy",
		handlePolicyRead(gate, resolve))
	router.Handle(routing.RouteClassPublicAPI, http.MethodPut, "/v1/projects/{code}/policy",
		handlePolicyWrite(gate, resolve))
	router.Handle(routing.RouteClassPublicAPI, http.MethodGet, "/v1/projects/{code}/audit",
		handleAuditQuery(gate, resolve))

	return router, nil
}

func MustNewHandler() http.Handler {
	h, err := NewHandler()
	if err != nil {
		panic(errors.New("server: failed to build handler: " + err.Error()))
	}
	return h
}

func defaultAllowlistPath() (string, error) {
	path := "config/routing/allowlist.yaml"
	for i := 0; i < 8; i++ {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: allowlist not found")
}
