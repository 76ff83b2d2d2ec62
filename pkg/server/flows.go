package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/devicelab-dev/apiflow/pkg/executor"
	"github.com/devicelab-dev/apiflow/pkg/flow"
	"github.com/devicelab-dev/apiflow/pkg/validator"
)

// RunBody tunes a flow or request run
type RunBody struct {
	StepIDs       []int64                `json:"stepIds,omitempty"`
	EnvironmentID string                 `json:"environmentId,omitempty"`
	CollectionID  string                 `json:"collectionId,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	GlobalProxyID *int64                 `json:"globalProxyId,omitempty"`
}

func (b RunBody) options() executor.RunOptions {
	return executor.RunOptions{
		StepIDs:       b.StepIDs,
		EnvironmentID: b.EnvironmentID,
		CollectionID:  b.CollectionID,
		Variables:     b.Variables,
		GlobalProxyID: b.GlobalProxyID,
	}
}

// FlowsListResponse is returned by GET /flows
type FlowsListResponse struct {
	Flows []*flow.Flow `json:"flows"`
	Count int          `json:"count"`
}

// ValidationResponse lists the problems found in a submitted flow
type ValidationResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems"`
	Status   int      `json:"status"`
}

func (s *Server) listFlows(c *gin.Context) {
	if s.flows == nil {
		abortWithError(c, http.StatusNotImplemented, ErrNoStore)
		return
	}
	flows, err := s.flows.ListFlows(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, fmt.Errorf("list flows: %w", err))
		return
	}
	c.JSON(http.StatusOK, FlowsListResponse{Flows: flows, Count: len(flows)})
}

func (s *Server) getFlow(c *gin.Context) {
	id, ok := flowID(c)
	if !ok {
		return
	}
	if s.flows == nil {
		abortWithError(c, http.StatusNotImplemented, ErrNoStore)
		return
	}
	f, err := s.flows.GetFlow(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, statusFor(err), fmt.Errorf("get flow %d: %w", id, err))
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) saveFlow(c *gin.Context) {
	if s.flows == nil {
		abortWithError(c, http.StatusNotImplemented, ErrNoStore)
		return
	}
	var f flow.Flow
	if err := c.ShouldBindJSON(&f); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInvalidJSON, err))
		return
	}
	if f.Name == "" {
		abortWithError(c, http.StatusBadRequest, errors.New("flow name is required"))
		return
	}

	if errs := validator.CheckFlow(&f, f.Name); len(errs) > 0 {
		problems := make([]string, len(errs))
		for i, err := range errs {
			problems[i] = err.Error()
		}
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, ValidationResponse{
			Error:    "flow is invalid",
			Problems: problems,
			Status:   http.StatusUnprocessableEntity,
		})
		return
	}

	f.Normalize()
	if err := s.flows.SaveFlow(c.Request.Context(), &f); err != nil {
		abortWithError(c, http.StatusInternalServerError, fmt.Errorf("save flow: %w", err))
		return
	}
	c.JSON(http.StatusCreated, &f)
}

func (s *Server) runFlow(c *gin.Context) {
	id, ok := flowID(c)
	if !ok {
		return
	}

	var body RunBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			abortWithError(c, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInvalidJSON, err))
			return
		}
	}

	result, err := s.runner.RunFlow(c.Request.Context(), id, body.options())
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func flowID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid flow id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}
