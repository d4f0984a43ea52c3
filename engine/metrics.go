package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/micromdm/nanorpa/rpa"
)

// updateMetrics records a terminal task of duration d finished at at.
// Rates are percentages of the execution count. The average is a
// running blend of the previous average and d rather than a true mean.
func updateMetrics(m *rpa.PerformanceMetrics, status rpa.TaskStatus, d time.Duration, at time.Time) {
	ms := float64(d) / float64(time.Millisecond)
	m.ExecutionCount++
	if status == rpa.TaskCompleted {
		m.SuccessfulCount++
	} else {
		m.FailedCount++
	}
	m.SuccessRate = float64(m.SuccessfulCount) / float64(m.ExecutionCount) * 100
	m.ErrorRate = 100 - m.SuccessRate
	m.AverageExecutionTime = (m.AverageExecutionTime + ms) / 2
	if ms > m.PeakExecutionTime {
		m.PeakExecutionTime = ms
	}
	m.LastExecution = at
}

// recordMetrics applies the terminal task to its bot and workflow metrics.
// The updated bot is returned.
func (e *Engine) recordMetrics(ctx context.Context, task *rpa.Task) (*rpa.Bot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bot, err := e.storage.RetrieveBot(ctx, task.BotID)
	if err != nil {
		return nil, fmt.Errorf("retrieving bot: %w", err)
	}
	updateMetrics(&bot.Metrics, task.Status, task.Duration(), task.EndTime)
	if err = e.storage.StoreBot(ctx, bot); err != nil {
		return bot, fmt.Errorf("storing bot: %w", err)
	}

	w, err := e.storage.RetrieveWorkflow(ctx, task.WorkflowID)
	if err != nil {
		return bot, fmt.Errorf("retrieving workflow: %w", err)
	}
	updateMetrics(&w.Metrics, task.Status, task.Duration(), task.EndTime)
	if err = e.storage.StoreWorkflow(ctx, w); err != nil {
		return bot, fmt.Errorf("storing workflow: %w", err)
	}
	return bot, nil
}
