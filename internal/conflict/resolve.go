package conflict

import (
	"fmt"

	"github.com/fieldops/worksync/internal/models"
)

// Resolution confidences are fixed per strategy.
const (
	confidencePrecedenceGraph  = 0.9
	confidenceMonotonicCounter = 0.95
	confidenceLastWriterWins   = 0.85
)

// Resolve picks the authoritative value for a detected conflict. Unlike
// detection, resolution raises on garbage input: silently resolving
// undecodable values would be worse than failing loudly.
func (e *engine) Resolve(c Conflict) (ResolutionResult, error) {
	switch c.Type {
	case TypeStateTransition:
		return e.resolveStateTransition(c)
	case TypeProgressPercentage:
		return e.resolveProgress(c)
	default:
		return ResolutionResult{}, fmt.Errorf("%w: %s", ErrUnsupportedConflictType, c.Type)
	}
}

// resolveStateTransition applies the precedence graph: the higher-ranked
// status wins outright; equal ranks fall back to the later lastModified.
// Last-writer-wins is only ever the tiebreak, never the primary rule.
func (e *engine) resolveStateTransition(c Conflict) (ResolutionResult, error) {
	lv, ok := decodeStatus(c.LocalValue)
	if !ok {
		return ResolutionResult{}, fmt.Errorf("%w: local state value", ErrValueNotDecodable)
	}
	rv, ok := decodeStatus(c.RemoteValue)
	if !ok {
		return ResolutionResult{}, fmt.Errorf("%w: remote state value", ErrValueNotDecodable)
	}

	localRank, ok := models.Rank(lv.Status)
	if !ok {
		return ResolutionResult{}, fmt.Errorf("%w: unknown status %q", ErrValueNotDecodable, lv.Status)
	}
	remoteRank, ok := models.Rank(rv.Status)
	if !ok {
		return ResolutionResult{}, fmt.Errorf("%w: unknown status %q", ErrValueNotDecodable, rv.Status)
	}

	winner := rv
	switch {
	case localRank > remoteRank:
		winner = lv
	case localRank < remoteRank:
		winner = rv
	case lv.LastModified > rv.LastModified:
		winner = lv
	}

	e.logger.Info("state conflict resolved",
		"work_order_id", c.Metadata.WorkOrderID,
		"local", lv.Status, "remote", rv.Status,
		"resolved", winner.Status,
	)

	return ResolutionResult{
		Success:       true,
		ResolvedValue: winner,
		Strategy:      StrategyPrecedenceGraph,
		Confidence:    confidencePrecedenceGraph,
		AppliedAt:     e.now(),
	}, nil
}

// resolveProgress picks the higher percentage when decreases are forbidden
// (progress only moves forward), or the later write when decreases were
// explicitly allowed by configuration.
func (e *engine) resolveProgress(c Conflict) (ResolutionResult, error) {
	lv, ok := decodeProgress(c.LocalValue)
	if !ok {
		return ResolutionResult{}, fmt.Errorf("%w: local progress value", ErrValueNotDecodable)
	}
	rv, ok := decodeProgress(c.RemoteValue)
	if !ok {
		return ResolutionResult{}, fmt.Errorf("%w: remote progress value", ErrValueNotDecodable)
	}

	var (
		winner     ProgressValue
		strategy   Strategy
		confidence float64
	)
	if e.cfg.AllowProgressDecrease {
		// Timestamp order decides; regressing visible progress is possible,
		// hence the lower confidence.
		winner = rv
		if lv.Timestamp > rv.Timestamp {
			winner = lv
		}
		strategy = StrategyLastWriterWins
		confidence = confidenceLastWriterWins
	} else {
		winner = rv
		if lv.Percentage > rv.Percentage {
			winner = lv
		}
		strategy = StrategyMonotonicCounter
		confidence = confidenceMonotonicCounter
	}

	e.logger.Info("progress conflict resolved",
		"work_order_id", c.Metadata.WorkOrderID,
		"local", lv.Percentage, "remote", rv.Percentage,
		"resolved", winner.Percentage, "strategy", string(strategy),
	)

	return ResolutionResult{
		Success:       true,
		ResolvedValue: winner,
		Strategy:      strategy,
		Confidence:    confidence,
		AppliedAt:     e.now(),
	}, nil
}
