package endpoints

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// BrowseEntry is one directory listing row.
type BrowseEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	AbsPath string `json:"abs_path"`
	Type    string `json:"type"`
}

// resolveBrowsePath normalizes a relative path inside base and rejects
// escapes.
func resolveBrowsePath(base, rel string) (string, string, bool) {
	normalized := filepath.Clean(strings.TrimSpace(rel))
	if normalized == "." || normalized == string(filepath.Separator) {
		normalized = ""
	}
	if strings.HasPrefix(normalized, "..") || filepath.IsAbs(normalized) {
		return "", "", false
	}
	target := filepath.Join(base, normalized)
	if !pathAllowed(target, base) {
		return "", "", false
	}
	return normalized, target, true
}

// listBrowseEntries reads one directory level, dot entries skipped, dirs
// first then case-insensitive by name.
func listBrowseEntries(base, dir, mode, ext string, limit int) ([]BrowseEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	entries := []BrowseEntry{}
	for _, entry := range dirEntries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		isDir := entry.IsDir()
		if mode == "dir" && !isDir {
			continue
		}
		if !isDir && ext != "" && !strings.HasSuffix(strings.ToLower(entry.Name()), ext) {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		rel, err := filepath.Rel(base, full)
		if err != nil {
			continue
		}
		kind := "file"
		if isDir {
			kind = "dir"
		}
		entries = append(entries, BrowseEntry{
			Name:    entry.Name(),
			Path:    rel,
			AbsPath: full,
			Type:    kind,
		})
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if (entries[i].Type == "dir") != (entries[j].Type == "dir") {
			return entries[i].Type == "dir"
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries, nil
}

// HandleBrowse returns a handler listing directories under the allowed roots
// @Summary      Browse server directories
// @Description  List one directory level under the downloads, config or tokens root
// @Tags         browse
// @Produce      json
// @Param        root query string true "downloads, config, or tokens"
// @Param        path query string false "Relative path within the root"
// @Param        mode query string false "dir or file"
// @Param        ext query string false "File extension filter"
// @Param        limit query int false "Max entries (1-5000)"
// @Success      200  {object}  map[string]any
// @Failure      400  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /browse [get]
func HandleBrowse(browseRoots map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		root := strings.ToLower(strings.TrimSpace(c.Query("root")))
		base, ok := browseRoots[root]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "root must be downloads, config, or tokens"})
			return
		}
		mode := strings.ToLower(c.DefaultQuery("mode", "dir"))
		if mode != "dir" && mode != "file" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be dir or file"})
			return
		}
		ext := strings.ToLower(strings.TrimSpace(c.Query("ext")))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		limit := 0
		if c.Query("limit") != "" {
			limit = clampedLimit(c.Query("limit"), 0, 5000)
		}

		relPath, target, ok := resolveBrowsePath(base, c.Query("path"))
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "path not allowed"})
			return
		}
		info, err := os.Stat(target)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Path not found: " + target})
			return
		}
		// A file path resolves to its containing directory.
		if !info.IsDir() {
			target = filepath.Dir(target)
			relPath = filepath.Dir(relPath)
			if relPath == "." {
				relPath = ""
			}
		}

		var parent any
		if relPath != "" {
			dir := filepath.Dir(relPath)
			if dir == "." {
				dir = ""
			}
			parent = dir
		}

		entries, err := listBrowseEntries(base, target, mode, ext, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read directory: " + err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"root":     root,
			"path":     relPath,
			"abs_path": target,
			"parent":   parent,
			"entries":  entries,
		})
	}
}
