package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubevault/internal/delivery"
	"tubevault/internal/jobs"
	"tubevault/internal/media"
	"tubevault/internal/paths"
	"tubevault/internal/status"
	"tubevault/internal/ytdlp"
)

type fakeDownloader struct {
	failures int
	calls    int
	ext      string
	info     *ytdlp.VideoInfo
}

func (d *fakeDownloader) Download(ctx context.Context, req ytdlp.DownloadRequest, attempt ytdlp.Attempt) (*ytdlp.VideoInfo, error) {
	d.calls++
	if d.calls <= d.failures {
		return nil, errors.New("HTTP Error 403: Forbidden")
	}
	ext := d.ext
	if ext == "" {
		ext = "webm"
	}
	path := filepath.Join(req.StagingDir, req.OutputStem+"."+ext)
	if err := os.WriteFile(path, []byte("media-bytes"), 0o644); err != nil {
		return nil, err
	}
	return d.info, nil
}

func (d *fakeDownloader) ProbeFormats(ctx context.Context, url string, overrides map[string]any) (string, error) {
	return "137 mp4\n140 m4a", nil
}

type fakeMedia struct {
	audioOnlyFirst int
	validates      int
	embedded       []media.Tags
	convertErr     error
}

func (m *fakeMedia) ValidateOutput(ctx context.Context, path string, audioMode bool) error {
	m.validates++
	if m.validates <= m.audioOnlyFirst {
		return media.ErrAudioOnly
	}
	return nil
}

func (m *fakeMedia) ConvertContainer(ctx context.Context, path, desiredExt string) (string, error) {
	if m.convertErr != nil {
		return "", m.convertErr
	}
	return path, nil
}

func (m *fakeMedia) EmbedTags(ctx context.Context, path string, tags media.Tags, coverPath string) error {
	m.embedded = append(m.embedded, tags)
	return nil
}

type fakeHistory struct {
	recorded []string
}

func (h *fakeHistory) RecordDownload(ctx context.Context, videoID, playlistID, filePath string) error {
	h.recorded = append(h.recorded, videoID)
	return nil
}

func (h *fakeHistory) MarkDownloaded(ctx context.Context, playlistID, videoID string) error {
	return nil
}

func testEnv(t *testing.T) (paths.Roots, paths.EnginePaths) {
	t.Helper()
	base := t.TempDir()
	roots := paths.Roots{
		ConfigDir:    filepath.Join(base, "config"),
		DataDir:      filepath.Join(base, "data"),
		DownloadsDir: filepath.Join(base, "downloads"),
		LogDir:       filepath.Join(base, "logs"),
		TokensDir:    filepath.Join(base, "tokens"),
	}
	engine := roots.BuildEnginePaths()
	require.NoError(t, roots.EnsureAll(engine))
	require.NoError(t, os.MkdirAll(roots.DownloadsDir, 0o755))
	return roots, engine
}

func playlistJob(roots paths.Roots) *jobs.Job {
	return &jobs.Job{
		ID:          "job-1",
		Origin:      "playlist",
		OriginID:    "PL1",
		MediaType:   "video",
		MediaIntent: "episode",
		Source:      "youtube",
		URL:         "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		OutputDir:   roots.DownloadsDir,
		Context: map[string]any{
			"video_id": "dQw4w9WgXcQ",
			"metadata": map[string]any{
				"title":       "Never Gonna Give You Up",
				"channel":     "Rick Astley",
				"upload_date": "19871027",
			},
		},
	}
}

func TestExecutePlaylistJob(t *testing.T) {
	roots, engine := testEnv(t)
	hist := &fakeHistory{}
	med := &fakeMedia{}
	exec := New(&fakeDownloader{}, med, hist, nil, roots, engine, status.NewPublisher(), Config{}, nil)

	outcome, err := exec.Execute(context.Background(), playlistJob(roots))
	require.NoError(t, err)
	assert.Equal(t, "Never Gonna Give You Up - Rick Astley (10-1987)_dQw4w9Wg.webm", outcome.Filename)
	assert.FileExists(t, outcome.FinalPath)
	assert.Equal(t, []string{"dQw4w9WgXcQ"}, hist.recorded)
	// Non-music jobs get tags embedded.
	require.Len(t, med.embedded, 1)
	assert.Equal(t, "Never Gonna Give You Up", med.embedded[0].Title)

	// Staging dir is cleaned up.
	entries, err := os.ReadDir(engine.TempDownloadsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteRetriesAcrossAttempts(t *testing.T) {
	roots, engine := testEnv(t)
	dl := &fakeDownloader{failures: 2}
	exec := New(dl, &fakeMedia{}, &fakeHistory{}, nil, roots, engine, nil, Config{Hardened: true}, nil)

	_, err := exec.Execute(context.Background(), playlistJob(roots))
	require.NoError(t, err)
	assert.Equal(t, 3, dl.calls)
}

func TestExecuteAudioOnlyOutputRejected(t *testing.T) {
	roots, engine := testEnv(t)
	dl := &fakeDownloader{}
	med := &fakeMedia{audioOnlyFirst: 1}
	exec := New(dl, med, &fakeHistory{}, nil, roots, engine, nil, Config{Hardened: true}, nil)

	_, err := exec.Execute(context.Background(), playlistJob(roots))
	require.NoError(t, err)
	// First attempt rejected, second accepted.
	assert.Equal(t, 2, dl.calls)
}

func TestExecuteAllAttemptsFail(t *testing.T) {
	roots, engine := testEnv(t)
	dl := &fakeDownloader{failures: 100}
	exec := New(dl, &fakeMedia{}, &fakeHistory{}, nil, roots, engine, nil, Config{}, nil)

	_, err := exec.Execute(context.Background(), playlistJob(roots))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestExecuteSearchJobStaysInLibrary(t *testing.T) {
	roots, engine := testEnv(t)
	registry := delivery.NewRegistry(nil)
	pub := status.NewPublisher()
	hist := &fakeHistory{}
	exec := New(&fakeDownloader{ext: "mp3"}, &fakeMedia{}, hist, registry, roots, engine, pub, Config{}, nil)

	job := playlistJob(roots)
	job.Origin = "search"
	job.MediaType = "audio"
	job.MediaIntent = "track"
	job.Context["audio_only"] = true
	job.Context["metadata"].(map[string]any)["artist"] = "Rick Astley"
	job.Context["metadata"].(map[string]any)["track"] = "Never Gonna Give You Up"

	outcome, err := exec.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("Rick Astley", "Never Gonna Give You Up.mp3"),
		strings.TrimPrefix(outcome.FinalPath, roots.DownloadsDir+string(filepath.Separator)))
	assert.Equal(t, []string{"dQw4w9WgXcQ"}, hist.recorded)

	// Search results are library files; no one-shot handle may exist that
	// would let the registry sweep them away.
	snap := pub.Snapshot()
	assert.Empty(t, snap.ClientDeliveryID)
	registry.Sweep()
	assert.FileExists(t, outcome.FinalPath)
}

func TestExecuteClientDeliveryJob(t *testing.T) {
	roots, engine := testEnv(t)
	registry := delivery.NewRegistry(nil)
	pub := status.NewPublisher()
	hist := &fakeHistory{}
	exec := New(&fakeDownloader{}, &fakeMedia{}, hist, registry, roots, engine, pub, Config{}, nil)

	job := playlistJob(roots)
	job.Origin = "single"
	job.OutputDir = engine.ClientDeliveryDir
	job.Context["delivery_mode"] = "client"

	outcome, err := exec.Execute(context.Background(), job)
	require.NoError(t, err)

	// Delivered files live in the delivery directory, never the library.
	assert.Equal(t, engine.ClientDeliveryDir, filepath.Dir(outcome.FinalPath))
	assert.NotContains(t, outcome.FinalPath, roots.DownloadsDir+string(filepath.Separator))

	// No history row: the file is transient and a row would block a
	// later real download of the same video.
	assert.Empty(t, hist.recorded)

	snap := pub.Snapshot()
	require.NotEmpty(t, snap.ClientDeliveryID)
	assert.Empty(t, snap.LastCompletedPath)
	handle, err := registry.Claim(snap.ClientDeliveryID)
	require.NoError(t, err)
	assert.Equal(t, outcome.FinalPath, handle.Path)
	registry.Release(handle.ID)
	assert.NoFileExists(t, outcome.FinalPath)
}

func TestExecuteConversionFailureKeepsOriginalContainer(t *testing.T) {
	roots, engine := testEnv(t)
	med := &fakeMedia{convertErr: errors.New("ffmpeg exited with status 1")}
	hist := &fakeHistory{}
	exec := New(&fakeDownloader{}, med, hist, nil, roots, engine, nil,
		Config{FinalFormat: "mp4"}, nil)

	outcome, err := exec.Execute(context.Background(), playlistJob(roots))
	require.NoError(t, err)
	assert.Equal(t, ".webm", filepath.Ext(outcome.FinalPath))
	assert.FileExists(t, outcome.FinalPath)
	assert.Equal(t, []string{"dQw4w9WgXcQ"}, hist.recorded)
}

func TestExecuteRejectsOutputDirOutsideSandbox(t *testing.T) {
	roots, engine := testEnv(t)
	exec := New(&fakeDownloader{}, &fakeMedia{}, &fakeHistory{}, nil, roots, engine, nil, Config{}, nil)

	job := playlistJob(roots)
	job.OutputDir = "/etc"
	_, err := exec.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output dir")
}
