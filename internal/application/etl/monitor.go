package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/telemetry"
)

// MonitorSettings holds the alert thresholds.
type MonitorSettings struct {
	// Window is how many recent runs the success rate is computed over
	Window int
	// MaxConsecutiveFail raises a critical alert at this many failures in a row
	MaxConsecutiveFail int
	// MaxNoDataRuns raises a warning at this many successful empty runs in a row
	MaxNoDataRuns int
	// MinSuccessRate is the lowest acceptable success ratio over Window runs
	MinSuccessRate float64
	// MaxRunDuration flags the latest run when it took longer; zero disables
	MaxRunDuration time.Duration
}

// DefaultMonitorSettings returns 3 failures, 5 empty runs, 80% over 10 runs
func DefaultMonitorSettings() MonitorSettings {
	return MonitorSettings{
		Window:             10,
		MaxConsecutiveFail: 3,
		MaxNoDataRuns:      5,
		MinSuccessRate:     0.8,
		MaxRunDuration:     30 * time.Minute,
	}
}

// HealthStatus summarizes a source
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

// vendorCheckTimeout bounds one credential check against a vendor.
const vendorCheckTimeout = 30 * time.Second

// VendorCheck checks that the vendor of a source accepts its credentials.
type VendorCheck func(ctx context.Context, sourceID string) error

// RowCounter counts the rows of a staging table.
type RowCounter interface {
	CountRows(ctx context.Context, table string) (int64, error)
}

// VendorStatus is the outcome of a vendor credential check.
type VendorStatus struct {
	Reachable bool
	Error     string
}

// SourceHealth is the monitor's view of one source.
type SourceHealth struct {
	SourceID            string
	Status              HealthStatus
	Runs                int
	SuccessRate         float64
	ConsecutiveFailures int
	ConsecutiveNoData   int
	LastRun             *pipeline.BatchRun
	LastSuccessAt       *time.Time
	Watermark           *time.Time
	Alerts              []pipeline.Alert

	// Vendor is nil when no vendor check is configured
	Vendor       *VendorStatus
	StagingTable string
	// StagingRows is nil when no counter is configured or counting failed
	StagingRows  *int64
}

// Monitor evaluates recent batches against alert rules and notifies.
type Monitor struct {
	tracker   *Tracker
	sources   pipeline.DataSourceRepository
	notifiers []pipeline.Notifier
	metrics   *telemetry.ETLMetrics
	clock     pipeline.Clock
	logger    *zap.Logger
	settings  MonitorSettings
	parser    cron.Parser

	vendorCheck VendorCheck
	counter     RowCounter
}

// NewMonitor creates a monitor. Zero thresholds take the defaults.
func NewMonitor(tracker *Tracker, sources pipeline.DataSourceRepository, settings MonitorSettings, metrics *telemetry.ETLMetrics, clock pipeline.Clock, logger *zap.Logger, notifiers ...pipeline.Notifier) *Monitor {
	def := DefaultMonitorSettings()
	if settings.Window <= 0 {
		settings.Window = def.Window
	}
	if settings.MaxConsecutiveFail <= 0 {
		settings.MaxConsecutiveFail = def.MaxConsecutiveFail
	}
	if settings.MaxNoDataRuns <= 0 {
		settings.MaxNoDataRuns = def.MaxNoDataRuns
	}
	if settings.MinSuccessRate <= 0 {
		settings.MinSuccessRate = def.MinSuccessRate
	}
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		tracker:   tracker,
		sources:   sources,
		notifiers: notifiers,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
		settings:  settings,
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// WithVendorCheck makes every evaluation check vendor credentials. Call it
// before the monitor is shared.
func (m *Monitor) WithVendorCheck(check VendorCheck) *Monitor {
	m.vendorCheck = check
	return m
}

// WithRowCounter makes every evaluation report the staging table row count.
// Call it before the monitor is shared.
func (m *Monitor) WithRowCounter(counter RowCounter) *Monitor {
	m.counter = counter
	return m
}

// Health evaluates one source without notifying anyone.
func (m *Monitor) Health(ctx context.Context, sourceID string) (*SourceHealth, error) {
	source, err := m.sources.FindByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return m.inspect(ctx, source)
}

// Report evaluates every active source and sends the resulting alerts.
func (m *Monitor) Report(ctx context.Context) ([]*SourceHealth, error) {
	sources, err := m.sources.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	var (
		report []*SourceHealth
		alerts int
	)
	for i := range sources {
		source := &sources[i]
		if !source.Active {
			continue
		}
		health, err := m.inspect(ctx, source)
		if err != nil {
			return report, err
		}
		for _, alert := range health.Alerts {
			m.notify(ctx, alert)
		}
		alerts += len(health.Alerts)
		report = append(report, health)
	}

	m.logger.Info("Monitor check finished",
		zap.Int("sources", len(report)),
		zap.Int("alerts", alerts),
	)
	return report, nil
}

// Check runs Report and returns only the alerts.
func (m *Monitor) Check(ctx context.Context) ([]pipeline.Alert, error) {
	report, err := m.Report(ctx)
	var alerts []pipeline.Alert
	for _, h := range report {
		alerts = append(alerts, h.Alerts...)
	}
	return alerts, err
}

// inspect evaluates the run history of source, then the vendor and staging
// table when a vendor check or counter is configured.
func (m *Monitor) inspect(ctx context.Context, source *pipeline.DataSource) (*SourceHealth, error) {
	runs, err := m.tracker.Recent(ctx, source.ID, m.settings.Window)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	h := m.evaluate(source, runs, now)

	if m.vendorCheck != nil {
		h.Vendor = m.checkVendor(ctx, source.ID)
		if !h.Vendor.Reachable {
			h.Alerts = append(h.Alerts, m.alert(pipeline.SeverityCritical, source.ID, pipeline.RuleVendorUnreachable, now,
				"vendor check failed: %s", h.Vendor.Error))
			h.Status = HealthCritical
		}
	}

	h.StagingTable = source.Target.Name
	if m.counter != nil && h.StagingTable != "" {
		n, err := m.counter.CountRows(ctx, h.StagingTable)
		if err != nil {
			m.logger.Warn("Failed to count staging rows",
				zap.String("source_id", source.ID),
				zap.String("table", h.StagingTable),
				zap.Error(err),
			)
		} else {
			h.StagingRows = &n
		}
	}
	return h, nil
}

func (m *Monitor) checkVendor(ctx context.Context, sourceID string) *VendorStatus {
	ctx, cancel := context.WithTimeout(ctx, vendorCheckTimeout)
	defer cancel()
	if err := m.vendorCheck(ctx, sourceID); err != nil {
		m.logger.Warn("Vendor check failed", zap.String("source_id", sourceID), zap.Error(err))
		return &VendorStatus{Error: err.Error()}
	}
	return &VendorStatus{Reachable: true}
}

func (m *Monitor) notify(ctx context.Context, alert pipeline.Alert) {
	m.metrics.AlertRaised(alert.SourceID, alert.Rule, string(alert.Severity))
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			m.logger.Warn("Failed to deliver alert",
				zap.String("source_id", alert.SourceID),
				zap.String("rule", alert.Rule),
				zap.Error(err),
			)
		}
	}
}

// evaluate applies the alert rules to runs, newest first. Running batches
// are ignored.
func (m *Monitor) evaluate(source *pipeline.DataSource, runs []pipeline.BatchRun, now time.Time) *SourceHealth {
	h := &SourceHealth{
		SourceID:  source.ID,
		Status:    HealthUnknown,
		Watermark: source.LastExtractTime,
	}

	finished := make([]pipeline.BatchRun, 0, len(runs))
	for _, r := range runs {
		if r.Status.IsTerminal() {
			finished = append(finished, r)
		}
	}
	h.Runs = len(finished)
	if len(finished) == 0 {
		if alert, ok := m.staleWatermark(source, now); ok {
			h.Alerts = append(h.Alerts, alert)
			h.Status = HealthDegraded
		}
		return h
	}
	latest := finished[0]
	h.LastRun = &latest

	successes := 0
	countingFailures, countingNoData := true, true
	for _, r := range finished {
		if r.Status == pipeline.BatchStatusSuccess {
			successes++
			if h.LastSuccessAt == nil {
				h.LastSuccessAt = r.EndedAt
			}
		}
		if countingFailures {
			if r.Status == pipeline.BatchStatusFailed {
				h.ConsecutiveFailures++
			} else {
				countingFailures = false
			}
		}
		if countingNoData {
			if r.Status == pipeline.BatchStatusSuccess && r.RecordsExtracted == 0 {
				h.ConsecutiveNoData++
			} else {
				countingNoData = false
			}
		}
	}
	h.SuccessRate = float64(successes) / float64(len(finished))

	if h.ConsecutiveFailures >= m.settings.MaxConsecutiveFail {
		h.Alerts = append(h.Alerts, m.alert(pipeline.SeverityCritical, source.ID, pipeline.RuleConsecutiveFailures, now,
			"pipeline has failed %d consecutive times, last error: %s", h.ConsecutiveFailures, latest.ErrorMessage))
	}
	if h.ConsecutiveNoData >= m.settings.MaxNoDataRuns {
		h.Alerts = append(h.Alerts, m.alert(pipeline.SeverityWarning, source.ID, pipeline.RuleNoData, now,
			"no new data for %d consecutive runs", h.ConsecutiveNoData))
	}
	if len(finished) >= m.settings.Window && h.SuccessRate < m.settings.MinSuccessRate {
		h.Alerts = append(h.Alerts, m.alert(pipeline.SeverityWarning, source.ID, pipeline.RuleLowSuccessRate, now,
			"success rate over the last %d runs is %.1f%% (below %.1f%%)", len(finished), h.SuccessRate*100, m.settings.MinSuccessRate*100))
	}
	if m.settings.MaxRunDuration > 0 && latest.Duration() > m.settings.MaxRunDuration {
		h.Alerts = append(h.Alerts, m.alert(pipeline.SeverityWarning, source.ID, pipeline.RuleSlowRun, now,
			"last run took %s, threshold %s", latest.Duration().Round(time.Second), m.settings.MaxRunDuration))
	}
	if alert, ok := m.staleWatermark(source, now); ok {
		h.Alerts = append(h.Alerts, alert)
	}

	switch {
	case h.ConsecutiveFailures >= m.settings.MaxConsecutiveFail:
		h.Status = HealthCritical
	case len(h.Alerts) > 0 || h.ConsecutiveFailures > 0:
		h.Status = HealthDegraded
	default:
		h.Status = HealthHealthy
	}
	return h
}

// staleWatermark flags a source whose watermark is older than two schedule
// intervals. Sources without a parsable schedule are never stale.
func (m *Monitor) staleWatermark(source *pipeline.DataSource, now time.Time) (pipeline.Alert, bool) {
	if source.LastExtractTime == nil || source.ExtractionFrequency == "" {
		return pipeline.Alert{}, false
	}
	schedule, err := m.parser.Parse(source.ExtractionFrequency)
	if err != nil {
		return pipeline.Alert{}, false
	}
	first := schedule.Next(*source.LastExtractTime)
	interval := schedule.Next(first).Sub(first)
	if interval <= 0 {
		return pipeline.Alert{}, false
	}
	age := now.Sub(*source.LastExtractTime)
	if age <= 2*interval {
		return pipeline.Alert{}, false
	}
	return m.alert(pipeline.SeverityWarning, source.ID, pipeline.RuleStaleWatermark, now,
		"watermark %s is %s old, schedule interval %s", source.LastExtractTime.Format(time.RFC3339), age.Round(time.Minute), interval), true
}

func (m *Monitor) alert(severity pipeline.AlertSeverity, sourceID, rule string, now time.Time, format string, args ...any) pipeline.Alert {
	return pipeline.Alert{
		Severity: severity,
		SourceID: sourceID,
		Rule:     rule,
		Message:  fmt.Sprintf(format, args...),
		RaisedAt: now,
	}
}
