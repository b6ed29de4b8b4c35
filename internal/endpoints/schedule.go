package endpoints

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tubevault/internal/config"
	"tubevault/internal/scheduler"

	"github.com/gin-gonic/gin"
)

const scheduleSchemaVersion = 1

// ScheduleApplier rearms the interval timer from a schedule block.
type ScheduleApplier interface {
	Apply(sched config.Schedule)
}

// ScheduleStateReader reads the persisted last_run and next_run markers.
type ScheduleStateReader interface {
	Read(ctx context.Context) (scheduler.State, error)
}

// mergedSchedule folds the config's schedule block over the defaults,
// keeping unknown keys so round-trips preserve them.
func mergedSchedule(raw map[string]any) map[string]any {
	defaults := config.DefaultSchedule()
	// interval_hours stays a float64 so the merged document matches what
	// JSON decoding of the config produces.
	merged := map[string]any{
		"enabled":        defaults.Enabled,
		"mode":           defaults.Mode,
		"interval_hours": float64(defaults.IntervalHours),
		"run_on_startup": defaults.RunOnStartup,
	}
	if block, ok := raw["schedule"].(map[string]any); ok {
		for key, value := range block {
			merged[key] = value
		}
	}
	return merged
}

// scheduleToConfig converts the merged document form back to the typed
// schedule for the timer.
func scheduleToConfig(merged map[string]any) config.Schedule {
	sched := config.DefaultSchedule()
	if data, err := json.Marshal(merged); err == nil {
		json.Unmarshal(data, &sched)
	}
	return sched
}

func scheduleResponse(c *gin.Context, state ScheduleStateReader, merged map[string]any) gin.H {
	var lastRun, nextRun any
	if state != nil {
		if st, err := state.Read(c.Request.Context()); err == nil {
			lastRun = orNil(st.LastRun)
			nextRun = orNil(st.NextRun)
		}
	}
	enabled, _ := merged["enabled"].(bool)
	return gin.H{
		"schema_version": scheduleSchemaVersion,
		"server_time":    time.Now().UTC().Format(time.RFC3339),
		"schedule":       merged,
		"enabled":        enabled,
		"last_run":       lastRun,
		"next_run":       nextRun,
	}
}

// HandleGetSchedule returns a handler reporting the schedule and its state
// @Summary      Get schedule
// @Tags         schedule
// @Produce      json
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  map[string]string
// @Router       /schedule [get]
func HandleGetSchedule(configState *ConfigState, state ScheduleStateReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := readConfigOr404(c, configState)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, scheduleResponse(c, state, mergedSchedule(raw)))
	}
}

// HandleUpdateSchedule returns a handler merging schedule updates
// @Summary      Update schedule
// @Description  Merge the provided fields into the schedule, persist the config and rearm the timer
// @Tags         schedule
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]any
// @Failure      400  {object}  map[string]any
// @Failure      404  {object}  map[string]string
// @Router       /schedule [post]
func HandleUpdateSchedule(configState *ConfigState, state ScheduleStateReader, applier ScheduleApplier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var updates map[string]any
		if err := c.ShouldBindJSON(&updates); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		raw, ok := readConfigOr404(c, configState)
		if !ok {
			return
		}
		merged := mergedSchedule(raw)
		for key, value := range updates {
			merged[key] = value
		}
		if errs := config.ValidateSchedule(merged); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
			return
		}

		raw["schedule"] = merged
		if err := configState.SaveRaw(raw); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write config"})
			return
		}
		if applier != nil {
			applier.Apply(scheduleToConfig(merged))
		}

		c.JSON(http.StatusOK, scheduleResponse(c, state, merged))
	}
}
