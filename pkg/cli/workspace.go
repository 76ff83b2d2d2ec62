package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/apiflow/pkg/config"
	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/executor"
	"github.com/devicelab-dev/apiflow/pkg/logger"
	"github.com/devicelab-dev/apiflow/pkg/store"
	"github.com/devicelab-dev/apiflow/pkg/store/memory"
	"github.com/devicelab-dev/apiflow/pkg/store/redisvars"
	"github.com/devicelab-dev/apiflow/pkg/store/sqlstore"
	"github.com/devicelab-dev/apiflow/pkg/transport"
	"github.com/devicelab-dev/apiflow/pkg/vars"
)

// persistence is what every store driver implements.
type persistence interface {
	store.FlowStore
	store.ProxyStore
	store.HistoryStore
	vars.Backend
}

// workspace holds the stores opened from the workspace config.
type workspace struct {
	cfg       *config.Config
	store     persistence
	variables vars.Backend
	closers   []func() error
}

// openWorkspace opens the configured store, the optional Redis variable
// backend, and seeds configured proxies.
func openWorkspace(ctx context.Context, cfg *config.Config) (*workspace, error) {
	ws := &workspace{cfg: cfg}

	switch cfg.Store.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		if cfg.Store.Driver == config.DriverSQLite && !strings.HasPrefix(cfg.Store.DSN, "file::memory:") {
			if err := os.MkdirAll(filepath.Dir(cfg.Store.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		s, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		ws.store = s
		ws.closers = append(ws.closers, s.Close)
		logger.Info("Store: %s", cfg.Store.Driver)
	default:
		ws.store = memory.New()
	}
	ws.variables = ws.store

	if cfg.Redis.Addr != "" {
		b, err := redisvars.Dial(ctx, redisvars.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			_ = ws.Close()
			return nil, err
		}
		ws.variables = b
		ws.closers = append(ws.closers, b.Close)
		logger.Info("Durable variables: redis %s", cfg.Redis.Addr)
	}

	for _, p := range cfg.Proxies {
		if err := ws.store.SaveProxy(ctx, &core.Proxy{ID: p.ID, Name: p.Name, URL: p.URL}); err != nil {
			_ = ws.Close()
			return nil, fmt.Errorf("seed proxy %d: %w", p.ID, err)
		}
	}
	return ws, nil
}

// Close releases every opened backend.
func (w *workspace) Close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}

// runSettings are the per-invocation overrides layered over the config.
type runSettings struct {
	OutputDir       string
	Env             map[string]string
	StepIDs         []int64
	Parallelism     int
	StopOnFail      bool
	FailOnHTTPError bool
	EnvironmentID   string
	CollectionID    string
	Progress        bool // Print live flow and step lines
}

// newRunner builds the executor over the workspace stores.
func (w *workspace) newRunner(rs runSettings) (*executor.Runner, error) {
	flush, err := executor.ParseFlushPolicy(w.cfg.Run.FlushPolicy)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string, len(w.cfg.Env)+len(rs.Env))
	for k, v := range w.cfg.Env {
		env[k] = v
	}
	for k, v := range rs.Env {
		env[k] = v
	}

	refs := vars.Refs{
		EnvironmentID: w.cfg.EnvironmentID,
		CollectionID:  w.cfg.CollectionID,
	}
	if rs.EnvironmentID != "" {
		refs.EnvironmentID = rs.EnvironmentID
	}
	if rs.CollectionID != "" {
		refs.CollectionID = rs.CollectionID
	}

	parallelism := w.cfg.Run.Parallelism
	if rs.Parallelism > 0 {
		parallelism = rs.Parallelism
	}

	deps := executor.Dependencies{
		Transport: transport.New(transport.Options{}),
		Flows:     w.store,
		Proxies:   w.store,
		History:   w.store,
		Variables: w.variables,
	}
	rc := executor.RunnerConfig{
		OutputDir:       rs.OutputDir,
		Parallelism:     parallelism,
		StopOnFail:      rs.StopOnFail,
		StepIDs:         rs.StepIDs,
		FailOnHTTPError: w.cfg.Run.FailOnHTTPError || rs.FailOnHTTPError,
		FlushPolicy:     flush,
		Refs:            refs,
		GlobalProxyID:   w.cfg.GlobalProxyID,
		Env:             env,
		RunnerVersion:   Version,
	}
	if rs.Progress {
		rc.OnFlowStart = onFlowStart
		rc.OnStepComplete = onStepComplete
		rc.OnFlowEnd = onFlowEnd
	}
	return executor.New(deps, rc), nil
}
