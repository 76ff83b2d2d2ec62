package executor

import (
	"context"
	"sync"

	"github.com/devicelab-dev/apiflow/pkg/flow"
	"github.com/devicelab-dev/apiflow/pkg/report"
)

// workItem represents a flow and its index in the original flow list.
type workItem struct {
	flow  *flow.Flow
	index int
}

// ParallelRunner executes independent flows on a fixed pool of workers.
// Runs share the durable variable backend; each has its own runtime scope.
type ParallelRunner struct {
	runner  *Runner
	workers int
}

// NewParallelRunner creates a parallel runner with the given worker count.
func NewParallelRunner(runner *Runner, workers int) *ParallelRunner {
	if workers < 1 {
		workers = 1
	}
	return &ParallelRunner{
		runner:  runner,
		workers: workers,
	}
}

// Run executes flows in parallel using a work queue pattern and writes the
// same reports as Runner.Run.
func (pr *ParallelRunner) Run(ctx context.Context, flows []*flow.Flow) (*RunResult, error) {
	r := *pr.runner
	r.config.Parallelism = pr.workers
	return r.Run(ctx, flows)
}

// executeFlows runs flows on the worker pool.
// All workers pull from the same queue until all flows are complete.
func (pr *ParallelRunner) executeFlows(ctx context.Context, flows []*flow.Flow, flowDetails []report.FlowDetail, indexWriter *report.IndexWriter) []FlowSummary {
	workQueue := make(chan workItem, len(flows))
	for i, f := range flows {
		workQueue <- workItem{flow: f, index: i}
	}
	close(workQueue)

	results := make([]FlowSummary, len(flows))
	var wg sync.WaitGroup
	var mu sync.Mutex
	stopAll := false

	totalFlows := len(flows)
	workers := pr.workers
	if workers > totalFlows {
		workers = totalFlows
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workQueue {
				mu.Lock()
				shouldStop := stopAll
				mu.Unlock()

				if shouldStop || ctx.Err() != nil {
					reason := "run cancelled"
					if shouldStop {
						reason = "run stopped"
					}
					results[item.index] = pr.runner.skipFlow(&flowDetails[item.index], indexWriter, reason)
					continue
				}

				result := pr.runner.executeFlow(ctx, item.flow, &flowDetails[item.index], indexWriter, item.index, totalFlows)
				results[item.index] = result

				if pr.runner.config.StopOnFail && result.Status == report.StatusFailed {
					mu.Lock()
					stopAll = true
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	return results
}

