package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/config"
)

const jobTimeout = 5 * time.Minute

// newMaintenance schedules the background jobs run alongside serve: pruning
// expired cache entries, failing runs abandoned mid-flight and the health
// check. An empty schedule disables its job.
func newMaintenance(env *appEnv, mc config.MaintenanceConfig, monitorSchedule string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))

	if mc.CachePruneSchedule != "" {
		if _, err := c.AddFunc(mc.CachePruneSchedule, func() { pruneCache(env) }); err != nil {
			return nil, eris.Wrapf(err, "maintenance: schedule cache prune %q", mc.CachePruneSchedule)
		}
	}

	if mc.StaleRunSchedule != "" {
		olderThan := time.Duration(mc.StaleRunHours) * time.Hour
		if olderThan <= 0 {
			olderThan = 2 * time.Hour
		}
		if _, err := c.AddFunc(mc.StaleRunSchedule, func() { failStaleRuns(env, olderThan) }); err != nil {
			return nil, eris.Wrapf(err, "maintenance: schedule stale runs %q", mc.StaleRunSchedule)
		}
	}

	if monitorSchedule != "" {
		if _, err := c.AddFunc(monitorSchedule, func() { checkHealth(env) }); err != nil {
			return nil, eris.Wrapf(err, "maintenance: schedule health check %q", monitorSchedule)
		}
	}

	zap.L().Info("maintenance jobs scheduled", zap.Int("jobs", len(c.Entries())))
	return c, nil
}

func pruneCache(env *appEnv) int {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := env.Cache.Prune(ctx)
	if err != nil {
		zap.L().Error("maintenance: cache prune failed", zap.Error(err))
		return 0
	}
	return n
}

func failStaleRuns(env *appEnv, olderThan time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := env.Store.FailStaleRuns(ctx, time.Now().Add(-olderThan))
	if err != nil {
		zap.L().Error("maintenance: fail stale runs failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		zap.L().Warn("maintenance: failed stale runs", zap.Int("runs", n), zap.Duration("older_than", olderThan))
	}
	return n
}

func checkHealth(env *appEnv) int {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	report, err := env.Monitor.Check(ctx, true)
	if err != nil {
		zap.L().Error("maintenance: health check failed", zap.Error(err))
		return 0
	}
	return len(report.Alerts)
}
