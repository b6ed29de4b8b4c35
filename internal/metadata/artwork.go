package metadata

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const coverArtBaseURL = "https://coverartarchive.org"

// maxArtworkBytes caps cover downloads; oversized art is dropped rather
// than embedded.
const maxArtworkBytes = 10 << 20

// FetchCoverArt downloads the front cover for a release into destDir and
// returns the file path. Any failure returns "" so tagging continues
// without artwork.
func FetchCoverArt(ctx context.Context, baseURL, releaseID, destDir string) string {
	if releaseID == "" {
		return ""
	}
	if baseURL == "" {
		baseURL = coverArtBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/release/"+releaseID+"/front", nil)
	if err != nil {
		return ""
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return ""
	}
	path := filepath.Join(destDir, "cover_"+releaseID+".jpg")
	out, err := os.Create(path)
	if err != nil {
		return ""
	}
	_, err = io.Copy(out, io.LimitReader(resp.Body, maxArtworkBytes))
	closeErr := out.Close()
	if err != nil || closeErr != nil {
		os.Remove(path)
		return ""
	}
	return path
}
