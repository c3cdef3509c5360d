package conflict

import (
	"math"

	"github.com/google/uuid"

	"github.com/fieldops/worksync/internal/models"
)

// Detect runs the per-kind checks over both sides. A value that decodes as
// more than one kind runs through every matching check and the conflicts
// accumulate.
func (e *engine) Detect(local, remote interface{}, meta Metadata) Result {
	var conflicts []Conflict

	if c, ok := e.detectStateTransition(local, remote, meta); ok {
		conflicts = append(conflicts, c)
	}
	if c, ok := e.detectProgress(local, remote, meta); ok {
		conflicts = append(conflicts, c)
	}

	result := Result{
		Conflicts:   conflicts,
		HasConflict: len(conflicts) > 0,
	}
	result.CanAutoResolve = result.HasConflict
	for _, c := range conflicts {
		if !c.AutoResolvable {
			result.CanAutoResolve = false
			break
		}
	}

	if result.HasConflict {
		e.logger.Info("conflict detected",
			"work_order_id", meta.WorkOrderID,
			"conflicts", len(conflicts),
			"auto_resolvable", result.CanAutoResolve,
		)
	}
	return result
}

// detectStateTransition flags status pairs that are neither equal nor a
// legal progression of the state machine. A valid transition means the
// remote value simply supersedes the local one.
func (e *engine) detectStateTransition(local, remote interface{}, meta Metadata) (Conflict, bool) {
	lv, ok := decodeStatus(local)
	if !ok {
		return Conflict{}, false
	}
	rv, ok := decodeStatus(remote)
	if !ok {
		return Conflict{}, false
	}

	if lv.Status == rv.Status {
		return Conflict{}, false
	}
	if models.ValidTransition(lv.Status, rv.Status) {
		return Conflict{}, false
	}

	// Invalid transition between two live writers: never applied silently,
	// always routed through the precedence-graph resolver.
	return Conflict{
		ID:             uuid.New().String(),
		Type:           TypeStateTransition,
		Severity:       SeverityHigh,
		LocalValue:     lv,
		RemoteValue:    rv,
		Metadata:       meta,
		DetectedAt:     e.now(),
		AutoResolvable: false,
	}, true
}

// detectProgress flags decreases and implausibly large jumps. A decrease
// (remote newer and lower) is always high severity and wins over the
// large-diff trigger when both fire; a large diff alone is medium and safe
// to auto-resolve. Any other delta is a normal monotonic increase.
func (e *engine) detectProgress(local, remote interface{}, meta Metadata) (Conflict, bool) {
	lv, ok := decodeProgress(local)
	if !ok {
		return Conflict{}, false
	}
	rv, ok := decodeProgress(remote)
	if !ok {
		return Conflict{}, false
	}

	if lv.Percentage == rv.Percentage {
		return Conflict{}, false
	}

	hasDecrease := rv.Timestamp > lv.Timestamp && rv.Percentage < lv.Percentage
	largeDiff := math.Abs(lv.Percentage-rv.Percentage) > e.cfg.LargeProgressDiffThreshold
	if !hasDecrease && !largeDiff {
		return Conflict{}, false
	}

	severity := SeverityMedium
	if hasDecrease {
		severity = SeverityHigh
	}

	return Conflict{
		ID:             uuid.New().String(),
		Type:           TypeProgressPercentage,
		Severity:       severity,
		LocalValue:     lv,
		RemoteValue:    rv,
		Metadata:       meta,
		DetectedAt:     e.now(),
		AutoResolvable: !hasDecrease,
	}, true
}
