// Package monitoring watches ingestion health: run failure rate, completion
// spend and review backlog. Breaches are posted to a webhook.
package monitoring

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/config"
)

// Report is the outcome of one check.
type Report struct {
	Snapshot *MetricsSnapshot `json:"snapshot"`
	Alerts   []Alert          `json:"alerts"`
	Sent     int              `json:"sent"`
}

// Checker runs one collect, evaluate and send cycle. It is scheduled by the
// serve maintenance cron and invoked directly by the monitor command.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates an alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	if cfg.LookbackWindowHours <= 0 {
		cfg.LookbackWindowHours = 24
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Check collects a snapshot and evaluates it. Alerts are delivered only when
// send is true.
func (c *Checker) Check(ctx context.Context, send bool) (*Report, error) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return nil, err
	}

	report := &Report{Snapshot: snap, Alerts: c.alerter.Evaluate(snap)}
	if len(report.Alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return report, nil
	}

	if send {
		report.Sent = c.alerter.SendAlerts(ctx, report.Alerts)
	}
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(report.Alerts)),
		zap.Int("alerts_sent", report.Sent),
	)
	return report, nil
}
