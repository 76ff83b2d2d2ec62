package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/devicelab-dev/apiflow/pkg/flow"
	"github.com/devicelab-dev/apiflow/pkg/store"
)

// RequestRunBody is the body of POST /requests/run
type RequestRunBody struct {
	Request flow.Step `json:"request"`
	RunBody
}

// HistoryListResponse is returned by GET /history
type HistoryListResponse struct {
	Entries []store.HistoryEntry `json:"entries"`
	Count   int                  `json:"count"`
}

func (s *Server) runRequest(c *gin.Context) {
	var body RequestRunBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInvalidJSON, err))
		return
	}
	if body.Request.URL == "" {
		abortWithError(c, http.StatusBadRequest, errors.New("request url is required"))
		return
	}

	result, err := s.runner.RunRequest(c.Request.Context(), body.Request, body.options())
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) listHistory(c *gin.Context) {
	if s.history == nil {
		abortWithError(c, http.StatusNotImplemented, ErrNoStore)
		return
	}

	limit := defaultHistoryMax
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	entries, err := s.history.ListHistory(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, fmt.Errorf("list history: %w", err))
		return
	}
	c.JSON(http.StatusOK, HistoryListResponse{Entries: entries, Count: len(entries)})
}
