package pipeline

import (
	"fmt"
	"time"
)

// AlertSeverity ranks monitor alerts
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert rule names
const (
	RuleConsecutiveFailures = "consecutive_failures"
	RuleNoData              = "no_data"
	RuleLowSuccessRate      = "low_success_rate"
	RuleSlowRun             = "slow_run"
	RuleStaleWatermark      = "stale_watermark"
	RuleVendorUnreachable   = "vendor_unreachable"
)

// Alert is one finding of the run monitor for a source.
type Alert struct {
	Severity AlertSeverity
	SourceID string
	Rule     string
	Message  string
	RaisedAt time.Time
}

func (a Alert) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", a.Severity, a.SourceID, a.Rule, a.Message)
}
