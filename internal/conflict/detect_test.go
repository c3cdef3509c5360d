package conflict

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/worksync/internal/models"
)

func newTestEngine(t *testing.T, cfg Config) Engine {
	t.Helper()
	cfg.Enabled = true
	return New(cfg, slog.Default())
}

func testMeta() Metadata {
	return Metadata{
		UserID:         "u-1",
		OrganizationID: "org-1",
		WorkOrderID:    "wo-1",
		Source:         SourceRemote,
	}
}

func status(s models.Status, lastModified int64) StatusValue {
	return StatusValue{Status: s, LastModified: lastModified}
}

func progress(pct float64, ts int64) ProgressValue {
	return ProgressValue{Percentage: pct, Timestamp: ts}
}

func TestDetect_ValidTransitionsAreNotConflicts(t *testing.T) {
	e := newTestEngine(t, Config{})

	valid := []struct{ from, to models.Status }{
		{models.StatusPlanned, models.StatusInProgress},
		{models.StatusInProgress, models.StatusDone},
		{models.StatusInProgress, models.StatusCompleted},
		{models.StatusInProgress, models.StatusFailed},
		{models.StatusFailed, models.StatusPlanned},
	}
	for _, tt := range valid {
		res := e.Detect(status(tt.from, 100), status(tt.to, 200), testMeta())
		assert.False(t, res.HasConflict, "%s -> %s is a normal progression", tt.from, tt.to)
		assert.Empty(t, res.Conflicts)
	}
}

func TestDetect_EqualStatusIsNotAConflict(t *testing.T) {
	e := newTestEngine(t, Config{})
	res := e.Detect(status(models.StatusDone, 100), status(models.StatusDone, 999), testMeta())
	assert.False(t, res.HasConflict)
}

func TestDetect_InvalidTransitionsAreHighSeverityConflicts(t *testing.T) {
	e := newTestEngine(t, Config{})

	all := []models.Status{
		models.StatusPlanned, models.StatusInProgress,
		models.StatusDone, models.StatusCompleted, models.StatusFailed,
	}
	for _, from := range all {
		for _, to := range all {
			if from == to || models.ValidTransition(from, to) {
				continue
			}
			res := e.Detect(status(from, 100), status(to, 200), testMeta())
			require.True(t, res.HasConflict, "%s -> %s must conflict", from, to)
			require.Len(t, res.Conflicts, 1)

			c := res.Conflicts[0]
			assert.Equal(t, TypeStateTransition, c.Type)
			assert.Equal(t, SeverityHigh, c.Severity)
			assert.False(t, c.AutoResolvable)
			assert.False(t, res.CanAutoResolve)
			assert.NotEmpty(t, c.ID)
			assert.Equal(t, "wo-1", c.Metadata.WorkOrderID)
		}
	}
}

func TestDetect_ExampleScenario_StatusSupersedes(t *testing.T) {
	// local in_progress@100 vs remote done@200: valid transition, no
	// conflict, the remote value simply wins.
	e := newTestEngine(t, Config{})
	res := e.Detect(status(models.StatusInProgress, 100), status(models.StatusDone, 200), testMeta())
	assert.False(t, res.HasConflict)
}

func TestDetect_ProgressEqualNoConflict(t *testing.T) {
	e := newTestEngine(t, Config{})
	res := e.Detect(progress(40, 100), progress(40, 200), testMeta())
	assert.False(t, res.HasConflict)
}

func TestDetect_ProgressDecreaseIsHighSeverity(t *testing.T) {
	e := newTestEngine(t, Config{})
	// Remote is newer and lower.
	res := e.Detect(progress(40, 100), progress(20, 200), testMeta())
	require.True(t, res.HasConflict)
	require.Len(t, res.Conflicts, 1)

	c := res.Conflicts[0]
	assert.Equal(t, TypeProgressPercentage, c.Type)
	assert.Equal(t, SeverityHigh, c.Severity)
	assert.False(t, c.AutoResolvable)
	assert.False(t, res.CanAutoResolve)
}

func TestDetect_ProgressLargeDiffIsMediumAndAutoResolvable(t *testing.T) {
	e := newTestEngine(t, Config{})
	// Remote jumped by more than 25 points without a decrease.
	res := e.Detect(progress(10, 100), progress(80, 200), testMeta())
	require.True(t, res.HasConflict)
	require.Len(t, res.Conflicts, 1)

	c := res.Conflicts[0]
	assert.Equal(t, SeverityMedium, c.Severity)
	assert.True(t, c.AutoResolvable)
	assert.True(t, res.CanAutoResolve)
}

func TestDetect_ProgressDecreaseWinsOverLargeDiff(t *testing.T) {
	e := newTestEngine(t, Config{})
	// Both triggers fire: a 60-point drop, newer on the remote side.
	// The decrease takes precedence: severity stays high.
	res := e.Detect(progress(90, 100), progress(30, 200), testMeta())
	require.True(t, res.HasConflict)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, SeverityHigh, res.Conflicts[0].Severity)
	assert.False(t, res.Conflicts[0].AutoResolvable)
}

func TestDetect_ProgressSmallIncreaseNoConflict(t *testing.T) {
	e := newTestEngine(t, Config{})
	res := e.Detect(progress(40, 100), progress(55, 200), testMeta())
	assert.False(t, res.HasConflict, "a normal monotonic increase")
}

func TestDetect_ProgressOlderLowerRemoteNoDecreaseFlag(t *testing.T) {
	e := newTestEngine(t, Config{})
	// Remote is lower but older: not a decrease. Delta is within the
	// threshold, so this is a plain monotonic progression.
	res := e.Detect(progress(40, 200), progress(20, 100), testMeta())
	assert.False(t, res.HasConflict)
}

func TestDetect_CustomThreshold(t *testing.T) {
	e := newTestEngine(t, Config{LargeProgressDiffThreshold: 50})
	res := e.Detect(progress(10, 100), progress(55, 200), testMeta())
	assert.False(t, res.HasConflict, "45-point diff below a 50-point threshold")

	res = e.Detect(progress(10, 100), progress(65, 200), testMeta())
	assert.True(t, res.HasConflict)
}

func TestDetect_UndecodableInputYieldsNoConflict(t *testing.T) {
	e := newTestEngine(t, Config{})

	tests := []struct {
		name   string
		local  interface{}
		remote interface{}
	}{
		{"both nil", nil, nil},
		{"local garbage", "garbage", status(models.StatusDone, 100)},
		{"missing fields", map[string]interface{}{"status": ""}, status(models.StatusDone, 100)},
		{"wrong types", map[string]interface{}{"percentage": "forty"}, progress(20, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Detect(tt.local, tt.remote, testMeta())
			assert.False(t, res.HasConflict)
		})
	}
}

func TestDetect_WireFormatMaps(t *testing.T) {
	e := newTestEngine(t, Config{})

	local := map[string]interface{}{"status": "done", "last_modified": float64(100)}
	remote := map[string]interface{}{"status": "in_progress", "lastModified": float64(200)}

	res := e.Detect(local, remote, testMeta())
	require.True(t, res.HasConflict)
	assert.Equal(t, TypeStateTransition, res.Conflicts[0].Type)
}

func TestDetect_DisabledEngineFailsOpen(t *testing.T) {
	e := New(Config{Enabled: false}, slog.Default())
	require.False(t, e.Enabled())

	res := e.Detect(status(models.StatusDone, 100), status(models.StatusInProgress, 200), testMeta())
	assert.False(t, res.HasConflict)
	assert.Empty(t, res.Conflicts)
}
