// Package notify implements fallback actions for failed steps.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/micromdm/nanorpa/engine"
	"github.com/micromdm/nanorpa/engine/steps"
	"github.com/micromdm/nanorpa/log/logkeys"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// Log is a notifier that logs escalations.
type Log struct {
	logger log.Logger
}

// NewLog creates a new logging notifier.
func NewLog(logger log.Logger) *Log {
	return &Log{logger: logger}
}

func (n *Log) Notify(ctx context.Context, esc *engine.Escalation) error {
	ctxlog.Logger(ctx, n.logger).Info(
		logkeys.Message, "step escalation",
		"action", esc.Action,
		logkeys.TaskID, esc.TaskID,
		logkeys.BotID, esc.BotID,
		logkeys.WorkflowID, esc.WorkflowID,
		logkeys.StepID, esc.StepID,
		logkeys.StepType, esc.StepType,
		logkeys.Attempt, esc.Attempts,
		logkeys.Error, esc.Err,
	)
	return nil
}

// Payload is the JSON body of a webhook escalation.
type Payload struct {
	Action     string    `json:"action"`
	TaskID     string    `json:"task_id"`
	BotID      string    `json:"bot_id"`
	WorkflowID string    `json:"workflow_id"`
	StepID     string    `json:"step_id"`
	StepType   string    `json:"step_type"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// Webhook is a notifier that POSTs escalations as JSON to a URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a new webhook notifier.
// If client is nil a client with a 10 second timeout is used.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, client: client}
}

func (n *Webhook) Notify(ctx context.Context, esc *engine.Escalation) error {
	p := &Payload{
		Action:     esc.Action,
		TaskID:     esc.TaskID,
		BotID:      esc.BotID,
		WorkflowID: esc.WorkflowID,
		StepID:     esc.StepID,
		StepType:   string(esc.StepType),
		Attempts:   esc.Attempts,
		SentAt:     time.Now(),
	}
	if esc.Err != nil {
		p.Error = esc.Err.Error()
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status: %s", resp.Status)
	}
	return nil
}

// Mailer sends email.
type Mailer interface {
	Send(ctx context.Context, msg *steps.Message) error
}

// Mail is a notifier that emails escalations.
type Mail struct {
	mailer Mailer
	to     []string
}

// NewMail creates a new email notifier sending to the to addresses.
func NewMail(mailer Mailer, to ...string) *Mail {
	return &Mail{mailer: mailer, to: to}
}

func (n *Mail) Notify(ctx context.Context, esc *engine.Escalation) error {
	if len(n.to) < 1 {
		return errors.New("mail: no recipients")
	}
	msg := &steps.Message{
		To:      n.to,
		Subject: fmt.Sprintf("step %s of workflow %s failed", esc.StepID, esc.WorkflowID),
		Body: fmt.Sprintf(
			"task: %s\nbot: %s\nworkflow: %s\nstep: %s (%s)\nattempts: %d\nerror: %v\n",
			esc.TaskID, esc.BotID, esc.WorkflowID, esc.StepID, esc.StepType, esc.Attempts, esc.Err,
		),
	}
	return n.mailer.Send(ctx, msg)
}
