package endpoints

import (
	"encoding/json"
	"net/http"
	"time"

	"tubevault/internal/status"

	"github.com/gin-gonic/gin"
)

const statusSchemaVersion = 1

// StatusSource exposes the engine's current snapshot.
type StatusSource interface {
	Snapshot() status.Snapshot
}

// HandleGetStatus returns a handler reporting the engine state
// @Summary      Get engine status
// @Description  Get the current run state and progress snapshot
// @Tags         status
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /status [get]
func HandleGetStatus(source StatusSource, downloadsDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := source.Snapshot()

		state := "idle"
		switch {
		case snap.Running:
			state = "running"
		case snap.LastErrorMessage != "":
			state = "error"
		}

		c.JSON(http.StatusOK, gin.H{
			"schema_version": statusSchemaVersion,
			"server_time":    time.Now().UTC().Format(time.RFC3339),
			"state":          state,
			"running":        snap.Running,
			"run_id":         orNil(snap.RunID),
			"started_at":     orNil(snap.RunStartedAt),
			"finished_at":    orNil(snap.RunFinishedAt),
			"error":          orNil(snap.LastErrorMessage),
			"status":         statusPayload(snap, downloadsDir),
		})
	}
}

// statusPayload reshapes the snapshot for clients: the completed file path
// never leaves the server, clients get an opaque file id instead.
func statusPayload(snap status.Snapshot, downloadsDir string) map[string]any {
	data, err := json.Marshal(snap)
	if err != nil {
		return map[string]any{}
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return map[string]any{}
	}
	delete(payload, "last_completed_path")
	if id := fileIDFromPath(downloadsDir, snap.LastCompletedPath); id != "" {
		payload["last_completed_file_id"] = id
	} else {
		payload["last_completed_file_id"] = nil
	}
	return payload
}

func orNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}
