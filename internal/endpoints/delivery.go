package endpoints

import (
	"net/http"
	"os"
	"path/filepath"

	"tubevault/internal/delivery"

	"github.com/gin-gonic/gin"
)

// DeliverySource hands out finished single downloads exactly once.
type DeliverySource interface {
	Claim(id string) (*delivery.Handle, error)
	Release(id string)
}

// HandleClaimDelivery returns a handler streaming a finished download
// @Summary      Claim a delivery
// @Description  Stream a finished single download. Each handle can be claimed once; the file is removed afterwards
// @Tags         delivery
// @Produce      octet-stream
// @Param        id path string true "Delivery handle"
// @Success      200  {file}    binary
// @Failure      404  {object}  map[string]string
// @Router       /delivery/{id}/claim [post]
func HandleClaimDelivery(source DeliverySource) gin.HandlerFunc {
	return func(c *gin.Context) {
		handle, err := source.Claim(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "delivery not found"})
			return
		}
		if _, err := os.Stat(handle.Path); err != nil {
			source.Release(handle.ID)
			c.JSON(http.StatusNotFound, gin.H{"error": "delivery not found"})
			return
		}

		filename := handle.Filename
		if filename == "" {
			filename = filepath.Base(handle.Path)
		}
		c.FileAttachment(handle.Path, safeFilename(filename))
		// The handle is one-shot: the file goes away once streamed.
		source.Release(handle.ID)
	}
}
