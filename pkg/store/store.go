// Package store defines the persistence collaborators of the engine:
// flow definitions, proxies and request history. Durable variables are
// persisted through vars.Backend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/flow"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// FlowStore reads and writes flow definitions.
type FlowStore interface {
	GetFlow(ctx context.Context, id int64) (*flow.Flow, error)
	ListFlows(ctx context.Context) ([]*flow.Flow, error)
	// SaveFlow inserts or replaces f. A zero ID is assigned by the store.
	SaveFlow(ctx context.Context, f *flow.Flow) error
}

// ProxyStore resolves proxies referenced by steps.
type ProxyStore interface {
	GetProxy(ctx context.Context, id int64) (*core.Proxy, error)
	SaveProxy(ctx context.Context, p *core.Proxy) error
}

// HistoryEntry records one ad-hoc request execution.
type HistoryEntry struct {
	ID         int64               `json:"id"`
	RunID      string              `json:"runId"`
	Method     string              `json:"method"`
	URL        string              `json:"url"`
	StatusCode int                 `json:"statusCode"`
	DurationMs int64               `json:"durationMs"`
	Success    bool                `json:"success"`
	Error      string              `json:"error,omitempty"`
	Request    *core.Request       `json:"request,omitempty"`
	Response   *core.ExecuteResult `json:"response,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// HistoryStore keeps the request history, newest first.
type HistoryStore interface {
	AppendHistory(ctx context.Context, e *HistoryEntry) error
	ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// NewHistoryEntry summarizes a single-request run.
func NewHistoryEntry(result *core.FlowResult) *HistoryEntry {
	e := &HistoryEntry{
		RunID:     result.RunID,
		Success:   result.Success,
		Error:     result.Error,
		CreatedAt: result.StartTime,
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if len(result.Steps) == 0 {
		return e
	}
	step := result.Steps[len(result.Steps)-1]
	e.Request = step.Request
	e.Response = step.Execute
	if step.Request != nil {
		e.Method = step.Request.Method
		e.URL = step.Request.URL
	}
	if step.Execute != nil {
		e.StatusCode = step.Execute.StatusCode
		e.DurationMs = step.Execute.DurationMs
	}
	if e.Error == "" {
		e.Error = step.Error
	}
	return e
}
