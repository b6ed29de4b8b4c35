package endpoints

import (
	"io/fs"
	"math"
	"net/http"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

const metricsSchemaVersion = 1

// downloadsMetrics counts files and bytes under the downloads tree,
// skipping dot entries.
func downloadsMetrics(baseDir string) (files int, bytes int64) {
	filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != baseDir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files++
		bytes += info.Size()
		return nil
	})
	return files, bytes
}

type diskUsage struct {
	TotalBytes  any `json:"total_bytes"`
	FreeBytes   any `json:"free_bytes"`
	UsedBytes   any `json:"used_bytes"`
	FreePercent any `json:"free_percent"`
}

func statDisk(path string) diskUsage {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return diskUsage{}
	}
	total := int64(stat.Blocks) * int64(stat.Bsize)
	free := int64(stat.Bavail) * int64(stat.Bsize)
	used := total - free
	usage := diskUsage{TotalBytes: total, FreeBytes: free, UsedBytes: used}
	if total > 0 {
		usage.FreePercent = math.Round(float64(free)/float64(total)*1000) / 10
	}
	return usage
}

// HandleGetMetrics returns a handler reporting storage usage
// @Summary      Get storage metrics
// @Description  Report downloads directory size and disk usage
// @Tags         metrics
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /metrics [get]
func HandleGetMetrics(downloadsDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		files, bytes := downloadsMetrics(downloadsDir)
		disk := statDisk(downloadsDir)
		c.JSON(http.StatusOK, gin.H{
			"schema_version":    metricsSchemaVersion,
			"server_time":       time.Now().UTC().Format(time.RFC3339),
			"downloads_dir":     downloadsDir,
			"downloads_files":   files,
			"downloads_bytes":   bytes,
			"disk_total_bytes":  disk.TotalBytes,
			"disk_free_bytes":   disk.FreeBytes,
			"disk_used_bytes":   disk.UsedBytes,
			"disk_free_percent": disk.FreePercent,
		})
	}
}
