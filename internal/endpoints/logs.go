package endpoints

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleGetLogs returns a handler tailing the server log
// @Summary      Tail the log file
// @Description  Return the last N lines of the server log as plain text
// @Tags         logs
// @Produce      plain
// @Param        lines query int false "Line count (1-5000)"
// @Success      200  {string}  string
// @Router       /logs [get]
func HandleGetLogs(logPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		lines := clampedLimit(c.Query("lines"), 200, 5000)
		c.String(http.StatusOK, tailLines(logPath, lines))
	}
}
