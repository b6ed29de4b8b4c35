package endpoints

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"

	"tubevault/internal/config"
	"tubevault/internal/paths"

	"github.com/gin-gonic/gin"
)

// ConfigState holds the active config file path and mediates reads and
// atomic writes of the document.
type ConfigState struct {
	roots paths.Roots

	mu   sync.RWMutex
	path string
}

// NewConfigState binds the state to its roots and the initial config path.
func NewConfigState(roots paths.Roots, path string) *ConfigState {
	return &ConfigState{roots: roots, path: path}
}

// Path returns the active config file path.
func (s *ConfigState) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// SetPath switches the active config file. The caller validates first.
func (s *ConfigState) SetPath(path string) {
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
}

// LoadRaw reads the active config as a raw JSON document.
func (s *ConfigState) LoadRaw() (map[string]any, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// SaveRaw writes the document atomically to the active config path.
func (s *ConfigState) SaveRaw(doc map[string]any) error {
	return config.Save(s.Path(), doc)
}

// Snapshot decodes the active config into its typed form.
func (s *ConfigState) Snapshot() (*config.Config, error) {
	cfg, _, err := config.Load(s.Path())
	return cfg, err
}

// readConfigOr404 loads the raw config, writing the 404 response itself
// when the file is missing.
func readConfigOr404(c *gin.Context, state *ConfigState) (map[string]any, bool) {
	raw, err := state.LoadRaw()
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Config not found: " + state.Path()})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read config: " + err.Error()})
		}
		return nil, false
	}
	return raw, true
}

// HandleGetConfig returns a handler serving the raw config document
// @Summary      Get configuration
// @Tags         config
// @Produce      json
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  map[string]string
// @Router       /config [get]
func HandleGetConfig(state *ConfigState) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := readConfigOr404(c, state)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, raw)
	}
}

// HandlePutConfig returns a handler replacing the config document
// @Summary      Replace configuration
// @Description  Validate and atomically persist a full config document
// @Tags         config
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]any
// @Router       /config [put]
func HandlePutConfig(state *ConfigState, scheduler ScheduleApplier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload map[string]any
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if errs := config.Validate(payload); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
			return
		}
		if err := state.SaveRaw(payload); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write config"})
			return
		}

		if _, ok := payload["schedule"]; ok && scheduler != nil {
			if cfg, err := state.Snapshot(); err == nil {
				scheduler.Apply(cfg.EffectiveSchedule())
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	}
}

// ConfigPathRequest is the PUT /config/path payload.
type ConfigPathRequest struct {
	Path string `json:"path"`
}

// HandleGetConfigPath returns a handler reporting the active config path
// @Summary      Get active config path
// @Tags         config
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /config/path [get]
func HandleGetConfigPath(state *ConfigState) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"path": state.Path()})
	}
}

// HandlePutConfigPath returns a handler switching the active config file
// @Summary      Set active config path
// @Description  Point the server at a different, already valid config file
// @Tags         config
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]any
// @Failure      404  {object}  map[string]string
// @Router       /config/path [put]
func HandlePutConfigPath(state *ConfigState) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConfigPathRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		value := strings.TrimSpace(req.Path)
		if value == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Config path is required"})
			return
		}
		target, err := state.roots.ResolveConfigPath(value)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := os.Stat(target); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Config not found: " + target})
			return
		}
		data, err := os.ReadFile(target)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read config: " + err.Error()})
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON in config: " + err.Error()})
			return
		}
		if errs := config.Validate(raw); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
			return
		}

		state.SetPath(target)
		c.JSON(http.StatusOK, gin.H{"path": target})
	}
}
