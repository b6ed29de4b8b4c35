package endpoints

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"tubevault/internal/history"

	"github.com/gin-gonic/gin"
)

// HistorySource queries the download history.
type HistorySource interface {
	Query(ctx context.Context, opts history.QueryOptions) ([]history.Entry, error)
}

// clampedLimit parses a limit query parameter into [1, max], falling back
// to def when absent or unparsable.
func clampedLimit(value string, def, max int) int {
	limit := def
	if value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			limit = parsed
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > max {
		limit = max
	}
	return limit
}

// HandleGetHistory returns a handler listing downloaded videos
// @Summary      Get download history
// @Description  List downloaded videos with optional filtering and sorting
// @Tags         history
// @Produce      json
// @Param        limit query int false "Max rows (1-5000)"
// @Param        search query string false "Substring match on video id or file path"
// @Param        playlist_id query string false "Filter by playlist"
// @Param        date_from query string false "Inclusive lower bound, YYYY-MM-DD"
// @Param        date_to query string false "Inclusive upper bound, YYYY-MM-DD"
// @Param        sort_by query string false "date, title or size"
// @Param        sort_dir query string false "asc or desc"
// @Success      200  {array}   map[string]any
// @Failure      400  {object}  map[string]string
// @Router       /history [get]
func HandleGetHistory(hist HistorySource, downloadsDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sortBy := strings.ToLower(c.DefaultQuery("sort_by", "date"))
		sortDir := strings.ToLower(c.DefaultQuery("sort_dir", "desc"))
		if sortBy != "date" && sortBy != "title" && sortBy != "size" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sort_by must be date, title, or size"})
			return
		}
		if sortDir != "asc" && sortDir != "desc" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sort_dir must be asc or desc"})
			return
		}

		entries, err := hist.Query(c.Request.Context(), history.QueryOptions{
			Limit:      clampedLimit(c.Query("limit"), 200, 5000),
			Search:     strings.TrimSpace(c.Query("search")),
			PlaylistID: strings.TrimSpace(c.Query("playlist_id")),
			DateFrom:   normalizeDate(c.Query("date_from"), false),
			DateTo:     normalizeDate(c.Query("date_to"), true),
			SortBy:     sortBy,
			SortDir:    sortDir,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read history"})
			return
		}

		rows := make([]gin.H, 0, len(entries))
		for _, entry := range entries {
			var fileID any
			if id := fileIDFromPath(downloadsDir, entry.Filepath); id != "" {
				fileID = id
			}
			rows = append(rows, gin.H{
				"video_id":      entry.VideoID,
				"playlist_id":   entry.PlaylistID,
				"downloaded_at": entry.DownloadedAt,
				"filepath":      entry.Filepath,
				"file_id":       fileID,
			})
		}
		c.JSON(http.StatusOK, rows)
	}
}
