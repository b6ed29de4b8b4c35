package endpoints

import (
	"context"
	"net/http"

	"tubevault/internal/search"

	"github.com/gin-gonic/gin"
)

// SearchStore is the request side of the track resolution pipeline.
type SearchStore interface {
	CreateRequest(ctx context.Context, input search.CreateRequestInput) (string, error)
	GetRequest(ctx context.Context, id string) (*search.Request, error)
	ListRequests(ctx context.Context, status string, limit int) ([]search.Request, error)
	ListItems(ctx context.Context, requestID string) ([]search.Item, error)
	ListCandidates(ctx context.Context, itemID string) ([]search.StoredCandidate, error)
	CancelRequest(ctx context.Context, id string) (bool, error)
}

// HandleCreateSearch returns a handler accepting a new search request
// @Summary      Create search request
// @Description  Queue a music search for background resolution
// @Tags         search
// @Accept       json
// @Produce      json
// @Param        request body search.CreateRequestInput true "Search request"
// @Success      202  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Router       /search [post]
func HandleCreateSearch(store SearchStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input search.CreateRequestInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		id, err := store.CreateRequest(c.Request.Context(), input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": search.RequestQueued})
	}
}

// HandleListSearches returns a handler listing search requests
// @Summary      List search requests
// @Tags         search
// @Produce      json
// @Param        status query string false "Request status filter"
// @Param        limit query int false "Max rows (1-200)"
// @Success      200  {array}   search.Request
// @Failure      500  {object}  map[string]string
// @Router       /search [get]
func HandleListSearches(store SearchStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		requests, err := store.ListRequests(c.Request.Context(), c.Query("status"), clampedLimit(c.Query("limit"), 50, 200))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list search requests"})
			return
		}
		if requests == nil {
			requests = []search.Request{}
		}
		c.JSON(http.StatusOK, requests)
	}
}

// SearchItemDetail pairs an item with its scored candidates.
type SearchItemDetail struct {
	search.Item
	Candidates []search.StoredCandidate `json:"candidates"`
}

// HandleGetSearch returns a handler with full search request detail
// @Summary      Get search request
// @Description  Get a search request with its items and scored candidates
// @Tags         search
// @Produce      json
// @Param        id path string true "Request ID"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  map[string]string
// @Router       /search/{id} [get]
func HandleGetSearch(store SearchStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		request, err := store.GetRequest(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch search request"})
			return
		}
		if request == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Search request not found"})
			return
		}

		items, err := store.ListItems(ctx, request.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch search items"})
			return
		}
		details := make([]SearchItemDetail, 0, len(items))
		for _, item := range items {
			candidates, err := store.ListCandidates(ctx, item.ID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch candidates"})
				return
			}
			if candidates == nil {
				candidates = []search.StoredCandidate{}
			}
			details = append(details, SearchItemDetail{Item: item, Candidates: candidates})
		}

		c.JSON(http.StatusOK, gin.H{"request": request, "items": details})
	}
}

// HandleCancelSearch returns a handler canceling an open search request
// @Summary      Cancel search request
// @Description  Cancel a request that has not reached a terminal state
// @Tags         search
// @Produce      json
// @Param        id path string true "Request ID"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  map[string]string
// @Router       /search/{id}/cancel [post]
func HandleCancelSearch(store SearchStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		canceled, err := store.CancelRequest(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel search request"})
			return
		}
		if !canceled {
			c.JSON(http.StatusConflict, gin.H{"error": "Search request is not cancelable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": search.RequestCanceled})
	}
}
