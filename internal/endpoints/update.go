package endpoints

import (
	"log/slog"
	"net/http"
	"os/exec"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// updateRunning guards against overlapping updater invocations.
var updateRunning atomic.Bool

// HandleYtDlpUpdate returns a handler that self-updates the yt-dlp binary
// @Summary      Update yt-dlp
// @Description  Spawn the yt-dlp self-updater; only one update may run at a time
// @Tags         maintenance
// @Produce      json
// @Success      202  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /yt-dlp/update [post]
func HandleYtDlpUpdate(ytdlpBin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !updateRunning.CompareAndSwap(false, true) {
			c.JSON(http.StatusConflict, gin.H{"error": "Update already running"})
			return
		}
		go func() {
			defer updateRunning.Store(false)
			out, err := exec.Command(ytdlpBin, "-U").CombinedOutput()
			if err != nil {
				slog.Error("yt-dlp update failed", "error", err, "output", string(out))
				return
			}
			slog.Info("yt-dlp update finished", "output", string(out))
		}()
		c.JSON(http.StatusAccepted, gin.H{"status": "update started"})
	}
}
