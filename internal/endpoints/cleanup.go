package endpoints

import (
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"tubevault/internal/paths"

	"github.com/gin-gonic/gin"
)

// cleanupDir empties a scratch directory and reports what it removed. The
// directory itself stays in place.
func cleanupDir(dir string) (files int, bytes int64) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			bytes += info.Size()
		}
		files++
		return nil
	})

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0
	}
	for _, entry := range entries {
		os.RemoveAll(filepath.Join(dir, entry.Name()))
	}
	return files, bytes
}

// HandleCleanup returns a handler emptying the temp download directories
// @Summary      Clean temp directories
// @Description  Delete leftover partial downloads and report freed space
// @Tags         cleanup
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /cleanup [post]
func HandleCleanup(ep paths.EnginePaths) gin.HandlerFunc {
	return func(c *gin.Context) {
		targets := []struct {
			label string
			path  string
		}{
			{"temp_downloads", ep.TempDownloadsDir},
			{"ytdlp_temp", ep.YtdlpTempDir},
		}

		totalFiles := 0
		var totalBytes int64
		details := gin.H{}
		for _, target := range targets {
			files, bytes := cleanupDir(target.path)
			totalFiles += files
			totalBytes += bytes
			details[target.label] = gin.H{
				"path":          target.path,
				"deleted_files": files,
				"deleted_bytes": bytes,
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"deleted_files": totalFiles,
			"deleted_bytes": totalBytes,
			"details":       details,
		})
	}
}
