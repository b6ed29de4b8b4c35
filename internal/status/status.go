// Package status publishes a snapshot of engine progress for the HTTP
// surface. Writers update individual fields, readers get a copy.
package status

import (
	"sync"
	"time"
)

// Phase names used for the current_phase field.
const (
	PhaseIdle        = "idle"
	PhaseEnumerating = "enumerating"
	PhaseDownloading = "downloading"
	PhaseEmbedding   = "embedding metadata"
	PhaseConverting  = "converting"
	PhaseFinalizing  = "finalizing"
)

// Snapshot is one point-in-time view of the engine.
type Snapshot struct {
	Running       bool   `json:"running"`
	RunID         string `json:"run_id,omitempty"`
	RunStartedAt  string `json:"run_started_at,omitempty"`
	RunFinishedAt string `json:"run_finished_at,omitempty"`

	RunSuccesses     int    `json:"run_successes"`
	RunFailures      int    `json:"run_failures"`
	RuntimeWarned    bool   `json:"runtime_warned"`
	SingleDownloadOK *bool  `json:"single_download_ok,omitempty"`
	CurrentPhase     string `json:"current_phase"`
	LastErrorMessage string `json:"last_error_message,omitempty"`

	CurrentPlaylistID string `json:"current_playlist_id,omitempty"`
	CurrentVideoID    string `json:"current_video_id,omitempty"`
	CurrentVideoTitle string `json:"current_video_title,omitempty"`

	ProgressCurrent int     `json:"progress_current"`
	ProgressTotal   int     `json:"progress_total"`
	ProgressPercent float64 `json:"progress_percent"`

	VideoProgressPercent float64 `json:"video_progress_percent"`
	VideoDownloadedBytes int64   `json:"video_downloaded_bytes"`
	VideoTotalBytes      int64   `json:"video_total_bytes"`
	VideoSpeed           float64 `json:"video_speed"`
	VideoETA             int     `json:"video_eta"`

	LastCompleted     string `json:"last_completed,omitempty"`
	LastCompletedAt   string `json:"last_completed_at,omitempty"`
	LastCompletedPath string `json:"last_completed_path,omitempty"`

	ClientDeliveryID        string `json:"client_delivery_id,omitempty"`
	ClientDeliveryFilename  string `json:"client_delivery_filename,omitempty"`
	ClientDeliveryExpiresAt string `json:"client_delivery_expires_at,omitempty"`
	ClientDeliveryMode      bool   `json:"client_delivery_mode"`
}

// Publisher holds the mutable engine status behind a mutex.
type Publisher struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewPublisher starts idle.
func NewPublisher() *Publisher {
	return &Publisher{snap: Snapshot{CurrentPhase: PhaseIdle}}
}

// Snapshot returns a copy of the current state.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Update applies fn to the state under the lock.
func (p *Publisher) Update(fn func(*Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.snap)
}

// BeginRun resets the per-run counters and marks the engine busy.
func (p *Publisher) BeginRun(runID string) {
	p.Update(func(s *Snapshot) {
		*s = Snapshot{
			Running:            true,
			RunID:              runID,
			RunStartedAt:       time.Now().UTC().Format(time.RFC3339),
			CurrentPhase:       PhaseEnumerating,
			ClientDeliveryMode: s.ClientDeliveryMode,
		}
	})
}

// EndRun marks the engine idle, keeping the per-run tallies visible.
func (p *Publisher) EndRun(lastError string) {
	p.Update(func(s *Snapshot) {
		s.Running = false
		s.RunFinishedAt = time.Now().UTC().Format(time.RFC3339)
		s.CurrentPhase = PhaseIdle
		s.CurrentPlaylistID = ""
		s.CurrentVideoID = ""
		s.CurrentVideoTitle = ""
		s.VideoProgressPercent = 0
		s.VideoDownloadedBytes = 0
		s.VideoTotalBytes = 0
		s.VideoSpeed = 0
		s.VideoETA = 0
		if lastError != "" {
			s.LastErrorMessage = lastError
		}
	})
}

// SetPhase updates the phase label.
func (p *Publisher) SetPhase(phase string) {
	p.Update(func(s *Snapshot) { s.CurrentPhase = phase })
}

// SetCurrent points the status at the item being processed.
func (p *Publisher) SetCurrent(playlistID, videoID, title string) {
	p.Update(func(s *Snapshot) {
		s.CurrentPlaylistID = playlistID
		s.CurrentVideoID = videoID
		s.CurrentVideoTitle = title
	})
}

// SetProgress updates the run-level counter and derived percent.
func (p *Publisher) SetProgress(current, total int) {
	p.Update(func(s *Snapshot) {
		s.ProgressCurrent = current
		s.ProgressTotal = total
		if total > 0 {
			s.ProgressPercent = float64(current) / float64(total) * 100
		} else {
			s.ProgressPercent = 0
		}
	})
}

// RecordSuccess notes a finished item.
func (p *Publisher) RecordSuccess(name, path string) {
	p.Update(func(s *Snapshot) {
		s.RunSuccesses++
		s.LastCompleted = name
		s.LastCompletedAt = time.Now().UTC().Format(time.RFC3339)
		s.LastCompletedPath = path
	})
}

// RecordFailure notes a failed item and keeps the message for the UI.
func (p *Publisher) RecordFailure(message string) {
	p.Update(func(s *Snapshot) {
		s.RunFailures++
		if message != "" {
			s.LastErrorMessage = message
		}
	})
}
