package endpoints

import (
	"context"
	"net/http"

	"tubevault/internal/jobs"

	"github.com/gin-gonic/gin"
)

// JobQueue defines the read side of the download queue.
type JobQueue interface {
	List(ctx context.Context, status string, limit int) ([]*jobs.Job, error)
	Get(ctx context.Context, jobID string) (*jobs.Job, error)
	Counts(ctx context.Context) (map[string]int, error)
}

// GetJobsResponse represents the response for the jobs endpoint
type GetJobsResponse struct {
	Jobs   []*jobs.Job    `json:"jobs"`
	Counts map[string]int `json:"counts"`
}

// HandleGetJobs returns a handler that lists download jobs
// @Summary      Get jobs
// @Description  Get download jobs, newest first, optionally filtered by status
// @Tags         jobs
// @Produce      json
// @Param        status query string false "Job status filter"
// @Param        limit query int false "Max rows (1-5000)"
// @Success      200  {object}  GetJobsResponse
// @Failure      500  {object}  map[string]string
// @Router       /jobs [get]
func HandleGetJobs(queue JobQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		limit := clampedLimit(c.Query("limit"), 200, 5000)

		list, err := queue.List(ctx, c.Query("status"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch jobs"})
			return
		}
		counts, err := queue.Counts(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch job counts"})
			return
		}
		if list == nil {
			list = []*jobs.Job{}
		}
		c.JSON(http.StatusOK, GetJobsResponse{Jobs: list, Counts: counts})
	}
}

// HandleGetJob returns a handler that fetches one job by id
// @Summary      Get job
// @Tags         jobs
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200  {object}  jobs.Job
// @Failure      404  {object}  map[string]string
// @Router       /jobs/{id} [get]
func HandleGetJob(queue JobQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := queue.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}
