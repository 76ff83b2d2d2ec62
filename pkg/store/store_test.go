package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/devicelab-dev/apiflow/pkg/core"
)

func TestNewHistoryEntry(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	result := &core.FlowResult{
		RunID:     "run-1",
		StartTime: start,
		Success:   true,
		Steps: []core.StepResult{{
			Request: &core.Request{Method: "POST", URL: "https://api.test/items"},
			Execute: &core.ExecuteResult{StatusCode: 201, DurationMs: 12},
		}},
	}

	e := NewHistoryEntry(result)
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, "https://api.test/items", e.URL)
	assert.Equal(t, 201, e.StatusCode)
	assert.Equal(t, int64(12), e.DurationMs)
	assert.True(t, e.Success)
	assert.Equal(t, start, e.CreatedAt)
}

func TestNewHistoryEntry_NoSteps(t *testing.T) {
	e := NewHistoryEntry(&core.FlowResult{RunID: "r", Error: "boom"})
	assert.Equal(t, "boom", e.Error)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Nil(t, e.Request)
}
