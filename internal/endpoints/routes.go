package endpoints

import (
	"net/http"

	"tubevault/internal/auth"
	"tubevault/internal/paths"

	"github.com/gin-gonic/gin"
)

// Deps carries everything the API surface needs. Optional fields may be
// nil; their routes are skipped.
type Deps struct {
	Status        StatusSource
	Launcher      RunLauncher
	ConfigState   *ConfigState
	ScheduleState ScheduleStateReader
	Scheduler     ScheduleApplier
	History       HistorySource
	Jobs          JobQueue
	Search        SearchStore
	Delivery      DeliverySource
	Version       VersionFunc

	Roots       paths.Roots
	EnginePaths paths.EnginePaths
	LogPath     string
	YtdlpBinary string

	BasicAuthUser string
	BasicAuthPass string
}

// BrowseRoots maps the browsable root names to their directories.
func (d Deps) BrowseRoots() map[string]string {
	return map[string]string{
		"downloads": d.Roots.DownloadsDir,
		"config":    d.Roots.ConfigDir,
		"tokens":    d.Roots.TokensDir,
	}
}

// SetupRoutes configures all API routes on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	api := router.Group("/api")
	api.Use(auth.BasicAuthMiddleware(deps.BasicAuthUser, deps.BasicAuthPass))

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	downloadsDir := deps.Roots.DownloadsDir

	if deps.Status != nil {
		api.GET("/status", HandleGetStatus(deps.Status, downloadsDir))
	}
	if deps.Launcher != nil {
		api.POST("/run", HandleStartRun(deps.Launcher))
	}
	if deps.ConfigState != nil {
		api.GET("/schedule", HandleGetSchedule(deps.ConfigState, deps.ScheduleState))
		api.POST("/schedule", HandleUpdateSchedule(deps.ConfigState, deps.ScheduleState, deps.Scheduler))
		api.GET("/config", HandleGetConfig(deps.ConfigState))
		api.PUT("/config", HandlePutConfig(deps.ConfigState, deps.Scheduler))
		api.GET("/config/path", HandleGetConfigPath(deps.ConfigState))
		api.PUT("/config/path", HandlePutConfigPath(deps.ConfigState))
	}
	if deps.History != nil {
		api.GET("/history", HandleGetHistory(deps.History, downloadsDir))
	}
	if deps.Jobs != nil {
		api.GET("/jobs", HandleGetJobs(deps.Jobs))
		api.GET("/jobs/:id", HandleGetJob(deps.Jobs))
	}
	if deps.Search != nil {
		api.POST("/search", HandleCreateSearch(deps.Search))
		api.GET("/search", HandleListSearches(deps.Search))
		api.GET("/search/:id", HandleGetSearch(deps.Search))
		api.POST("/search/:id/cancel", HandleCancelSearch(deps.Search))
	}
	if deps.Delivery != nil {
		api.POST("/delivery/:id/claim", HandleClaimDelivery(deps.Delivery))
	}
	if deps.Version != nil {
		api.GET("/version", HandleGetVersion(deps.Version))
	}

	api.GET("/metrics", HandleGetMetrics(downloadsDir))
	api.GET("/paths", HandleGetPaths(deps.Roots, deps.BrowseRoots()))
	api.GET("/files", HandleListFiles(downloadsDir))
	api.GET("/files/:id/download", HandleDownloadFile(downloadsDir))
	api.POST("/cleanup", HandleCleanup(deps.EnginePaths))
	if deps.YtdlpBinary != "" {
		api.POST("/yt-dlp/update", HandleYtDlpUpdate(deps.YtdlpBinary))
	}
	api.GET("/browse", HandleBrowse(deps.BrowseRoots()))
	api.GET("/logs", HandleGetLogs(deps.LogPath))
}
