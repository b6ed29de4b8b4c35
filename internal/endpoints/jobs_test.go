package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubevault/internal/jobs"
)

type fakeJobQueue struct {
	jobs       []*jobs.Job
	lastStatus string
	lastLimit  int
}

func (f *fakeJobQueue) List(ctx context.Context, status string, limit int) ([]*jobs.Job, error) {
	f.lastStatus = status
	f.lastLimit = limit
	return f.jobs, nil
}

func (f *fakeJobQueue) Get(ctx context.Context, jobID string) (*jobs.Job, error) {
	for _, job := range f.jobs {
		if job.ID == jobID {
			return job, nil
		}
	}
	return nil, errors.New("no such job")
}

func (f *fakeJobQueue) Counts(ctx context.Context) (map[string]int, error) {
	return map[string]int{"queued": len(f.jobs)}, nil
}

func jobsRouter(queue JobQueue) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/jobs", HandleGetJobs(queue))
	router.GET("/api/jobs/:id", HandleGetJob(queue))
	return router
}

func TestGetJobs(t *testing.T) {
	queue := &fakeJobQueue{jobs: []*jobs.Job{
		{ID: "j1", Source: "youtube", Status: "queued"},
		{ID: "j2", Source: "youtube", Status: "queued"},
	}}
	router := jobsRouter(queue)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/jobs?status=queued&limit=10", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp GetJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
	assert.Equal(t, 2, resp.Counts["queued"])
	assert.Equal(t, "queued", queue.lastStatus)
	assert.Equal(t, 10, queue.lastLimit)
}

func TestGetJobByID(t *testing.T) {
	queue := &fakeJobQueue{jobs: []*jobs.Job{{ID: "j1", Source: "youtube"}}}
	router := jobsRouter(queue)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/jobs/j1", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/jobs/missing", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
