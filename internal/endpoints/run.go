package endpoints

import (
	"errors"
	"net/http"

	"tubevault/internal/engine"

	"github.com/gin-gonic/gin"
)

// RunLauncher starts archive runs.
type RunLauncher interface {
	Start(params engine.StartParams) (string, error)
}

// RunRequest is the POST /run payload. All fields are optional; an empty
// body starts a full archive run.
type RunRequest struct {
	SingleURL           string `json:"single_url"`
	Destination         string `json:"destination"`
	FinalFormatOverride string `json:"final_format_override"`
	JSRuntime           string `json:"js_runtime"`
	Delivery            string `json:"delivery"`
}

// HandleStartRun returns a handler that launches an archive run
// @Summary      Start an archive run
// @Description  Start a full archive run, or a single-URL download when single_url is set
// @Tags         run
// @Accept       json
// @Produce      json
// @Param        request body RunRequest false "Run options"
// @Success      202  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /run [post]
func HandleStartRun(launcher RunLauncher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RunRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		runID, err := launcher.Start(engine.StartParams{
			SingleURL:      req.SingleURL,
			Destination:    req.Destination,
			FormatOverride: req.FinalFormatOverride,
			JSRuntime:      req.JSRuntime,
			Delivery:       req.Delivery,
		})
		if err != nil {
			if errors.Is(err, engine.ErrRunActive) {
				c.JSON(http.StatusConflict, gin.H{"error": "Archive run already in progress"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start run"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "started"})
	}
}
