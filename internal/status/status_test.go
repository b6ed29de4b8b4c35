package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunLifecycle(t *testing.T) {
	p := NewPublisher()
	assert.Equal(t, PhaseIdle, p.Snapshot().CurrentPhase)
	assert.False(t, p.Snapshot().Running)

	p.BeginRun("run-1")
	snap := p.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, PhaseEnumerating, snap.CurrentPhase)
	assert.NotEmpty(t, snap.RunStartedAt)

	p.SetCurrent("PL1", "vid1", "Title")
	p.SetProgress(1, 4)
	p.RecordSuccess("Title", "/downloads/Title.webm")
	p.RecordFailure("HTTP Error 403: Forbidden")

	snap = p.Snapshot()
	assert.Equal(t, 1, snap.RunSuccesses)
	assert.Equal(t, 1, snap.RunFailures)
	assert.Equal(t, 25.0, snap.ProgressPercent)
	assert.Equal(t, "HTTP Error 403: Forbidden", snap.LastErrorMessage)

	p.EndRun("")
	snap = p.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, PhaseIdle, snap.CurrentPhase)
	assert.Empty(t, snap.CurrentVideoID)
	// Tallies survive the run for the UI.
	assert.Equal(t, 1, snap.RunSuccesses)
	assert.NotEmpty(t, snap.RunFinishedAt)
}

func TestBeginRunResetsCounters(t *testing.T) {
	p := NewPublisher()
	p.BeginRun("run-1")
	p.RecordSuccess("a", "/a")
	p.EndRun("boom")

	p.BeginRun("run-2")
	snap := p.Snapshot()
	assert.Zero(t, snap.RunSuccesses)
	assert.Empty(t, snap.LastErrorMessage)
	assert.Equal(t, "run-2", snap.RunID)
}

func TestSetProgressZeroTotal(t *testing.T) {
	p := NewPublisher()
	p.SetProgress(0, 0)
	assert.Zero(t, p.Snapshot().ProgressPercent)
}
