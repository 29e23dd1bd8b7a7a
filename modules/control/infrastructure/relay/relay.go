// Package relay holds the sinks accepted commands are handed to. The real
// vendor relay lives outside this service; these sinks cover local runs and
// tests.
package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gridlume/gridlume/modules/control/domain/types"
)

// LogSink records dispatches to the log only. Deployments without a vendor
// relay run with it; commands stay in the "simulated" stage.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Dispatch(ctx context.Context, asset types.Asset, command types.Command, commandID string) error {
	s.logger.InfoContext(ctx, "command dispatched",
		"command_id", commandID,
		"project_id", asset.ProjectID,
		"asset", asset.ExternalID,
		"kind", string(command.Kind),
		"mode", string(asset.Mode),
	)
	return nil
}

// CaptureSink keeps dispatched commands in memory for tests.
type CaptureSink struct {
	mu         sync.Mutex
	dispatched []Dispatched
}

type Dispatched struct {
	CommandID string
	Asset     types.Asset
	Command   types.Command
}

func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

func (s *CaptureSink) Dispatch(ctx context.Context, asset types.Asset, command types.Command, commandID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched = append(s.dispatched, Dispatched{CommandID: commandID, Asset: asset, Command: command})
	return nil
}

func (s *CaptureSink) Dispatched() []Dispatched {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Dispatched, len(s.dispatched))
	copy(out, s.dispatched)
	return out
}
