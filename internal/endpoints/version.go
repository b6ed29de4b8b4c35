package endpoints

import (
	"context"
	"net/http"

	"tubevault/internal/paths"
	"tubevault/internal/runtimeinfo"

	"github.com/gin-gonic/gin"
)

// VersionFunc collects the version surface, probing external binaries.
type VersionFunc func(ctx context.Context) runtimeinfo.Info

// HandleGetVersion returns a handler reporting component versions
// @Summary      Get version info
// @Tags         version
// @Produce      json
// @Success      200  {object}  runtimeinfo.Info
// @Router       /version [get]
func HandleGetVersion(collect VersionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, collect(c.Request.Context()))
	}
}

// HandleGetPaths returns a handler reporting the server directory layout
// @Summary      Get server paths
// @Tags         paths
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /paths [get]
func HandleGetPaths(roots paths.Roots, browseRoots map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"config_dir":    roots.ConfigDir,
			"data_dir":      roots.DataDir,
			"downloads_dir": roots.DownloadsDir,
			"log_dir":       roots.LogDir,
			"tokens_dir":    roots.TokensDir,
			"browse_roots":  browseRoots,
		})
	}
}
