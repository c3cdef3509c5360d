package conflict

import (
	"errors"
	"log/slog"
	"time"
)

var (
	// ErrEngineDisabled is returned when resolution is invoked on a disabled
	// engine. Detection on a disabled engine fails open instead; resolution
	// must never be reached there, so this is a contract error.
	ErrEngineDisabled = errors.New("conflict: engine disabled")
	// ErrUnsupportedConflictType is returned for conflict types the engine
	// has no resolver for (including the reserved geo_coordinate type).
	ErrUnsupportedConflictType = errors.New("conflict: unsupported conflict type")
	// ErrValueNotDecodable is returned when resolveConflict receives values
	// that do not decode into the type's expected shape. Unlike detection,
	// resolution never tolerates garbage input.
	ErrValueNotDecodable = errors.New("conflict: value not decodable")
)

// DefaultLargeProgressDiffThreshold is the percentage-point gap beyond which
// two progress reports are suspicious even without a decrease.
const DefaultLargeProgressDiffThreshold = 25.0

// Config tunes the engine. Enabled=false produces a pass-through engine.
type Config struct {
	Enabled                    bool
	AllowProgressDecrease      bool
	LargeProgressDiffThreshold float64 // defaults to DefaultLargeProgressDiffThreshold
}

// Engine detects conflicts between a local and a remote version of an
// entity's mutable state and resolves them to a single authoritative value.
type Engine interface {
	// Detect compares the two sides. Non-decodable input yields no conflict:
	// insufficient information is not a policy violation.
	Detect(local, remote interface{}, meta Metadata) Result
	// Resolve picks the authoritative value for one detected conflict.
	Resolve(c Conflict) (ResolutionResult, error)
	// Enabled reports whether this engine actually resolves anything.
	Enabled() bool
}

// New selects the engine implementation at construction time: the live
// engine when enabled, otherwise a pass-through that reports no conflicts
// and refuses resolution.
func New(cfg Config, logger *slog.Logger) Engine {
	if !cfg.Enabled {
		return disabledEngine{}
	}
	if cfg.LargeProgressDiffThreshold <= 0 {
		cfg.LargeProgressDiffThreshold = DefaultLargeProgressDiffThreshold
	}
	return &engine{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

type engine struct {
	now    func() time.Time
	logger *slog.Logger
	cfg    Config
}

func (e *engine) Enabled() bool { return true }

// disabledEngine is the fail-open strategy: sync proceeds as if no writer
// ever raced.
type disabledEngine struct{}

func (disabledEngine) Detect(_, _ interface{}, _ Metadata) Result {
	return Result{}
}

func (disabledEngine) Resolve(_ Conflict) (ResolutionResult, error) {
	return ResolutionResult{}, ErrEngineDisabled
}

func (disabledEngine) Enabled() bool { return false }
