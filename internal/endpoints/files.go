package endpoints

import (
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// FileEntry is one downloadable file under the downloads directory.
type FileEntry struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RelativePath string `json:"relative_path"`
	SizeBytes    int64  `json:"size_bytes"`
	ModifiedAt   string `json:"modified_at"`
}

// listDownloadFiles walks the downloads tree, skipping dot files and dot
// directories, newest first.
func listDownloadFiles(baseDir string) []FileEntry {
	results := []FileEntry{}
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
		rel, err := filepath.Rel(baseDir, path)
		if err != nil {
			return nil
		}
		results = append(results, FileEntry{
			ID:           EncodeFileID(rel),
			Name:         d.Name(),
			RelativePath: rel,
			SizeBytes:    info.Size(),
			ModifiedAt:   info.ModTime().UTC().Format(time.RFC3339),
		})
		return nil
	})
	sort.Slice(results, func(i, j int) bool {
		return results[i].ModifiedAt > results[j].ModifiedAt
	})
	return results
}

// HandleListFiles returns a handler listing downloaded files
// @Summary      List downloaded files
// @Tags         files
// @Produce      json
// @Success      200  {array}   FileEntry
// @Router       /files [get]
func HandleListFiles(downloadsDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, listDownloadFiles(downloadsDir))
	}
}

// HandleDownloadFile returns a handler streaming one downloaded file
// @Summary      Download a file
// @Description  Stream a file by its opaque id as an attachment
// @Tags         files
// @Produce      octet-stream
// @Param        id path string true "File id"
// @Success      200  {file}    binary
// @Failure      400  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /files/{id}/download [get]
func HandleDownloadFile(downloadsDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rel, err := DecodeFileID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file id"})
			return
		}
		candidate := filepath.Join(downloadsDir, rel)
		if !pathAllowed(candidate, downloadsDir) {
			c.JSON(http.StatusForbidden, gin.H{"error": "File not allowed"})
			return
		}
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		c.FileAttachment(candidate, safeFilename(filepath.Base(candidate)))
	}
}
