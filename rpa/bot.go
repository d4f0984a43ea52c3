package rpa

import (
	"time"
)

// BotStatus is the lifecycle status of a bot.
type BotStatus string

const (
	BotActive      BotStatus = "active"
	BotInactive    BotStatus = "inactive"
	BotError       BotStatus = "error"
	BotMaintenance BotStatus = "maintenance"
)

// Valid reports whether s is a known bot status.
func (s BotStatus) Valid() bool {
	switch s {
	case BotActive, BotInactive, BotError, BotMaintenance:
		return true
	}
	return false
}

// BotConfig configures a bot.
type BotConfig struct {
	MaxConcurrentExecutions int      `json:"max_concurrent_executions,omitempty" yaml:"max_concurrent_executions,omitempty"`
	Timeout                 Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryAttempts           int      `json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty"`
	ErrorNotification       bool     `json:"error_notification,omitempty" yaml:"error_notification,omitempty"`
	LoggingLevel            string   `json:"logging_level,omitempty" yaml:"logging_level,omitempty"`

	// ComplianceMode is derived from the bot's industry at registration.
	ComplianceMode bool `json:"compliance_mode" yaml:"compliance_mode"`

	DataRetentionDays int  `json:"data_retention_days,omitempty" yaml:"data_retention_days,omitempty"`
	Encryption        bool `json:"encryption,omitempty" yaml:"encryption,omitempty"`
	AuditLogging      bool `json:"audit_logging,omitempty" yaml:"audit_logging,omitempty"`
}

// PerformanceMetrics are execution statistics for a bot or a workflow.
// Times are in milliseconds.
type PerformanceMetrics struct {
	ExecutionCount       int64     `json:"execution_count"`
	SuccessfulCount      int64     `json:"successful_count"`
	FailedCount          int64     `json:"failed_count"`
	SuccessRate          float64   `json:"success_rate"`
	ErrorRate            float64   `json:"error_rate"`
	AverageExecutionTime float64   `json:"average_execution_time"`
	PeakExecutionTime    float64   `json:"peak_execution_time"`
	LastExecution        time.Time `json:"last_execution,omitempty"`
}

// Bot is a named automation unit scoped to one industry.
type Bot struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Industry  string             `json:"industry"`
	Status    BotStatus          `json:"status"`
	Config    BotConfig          `json:"config"`
	Workflows []string           `json:"workflows,omitempty"`
	Metrics   PerformanceMetrics `json:"metrics"`
	Version   string             `json:"version,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// HasWorkflow reports whether the workflow id is attached to b.
func (b *Bot) HasWorkflow(id string) bool {
	for _, wid := range b.Workflows {
		if wid == id {
			return true
		}
	}
	return false
}
