// Package steps implements the built-in step handlers.
// Each handler is a narrow, declarative operation configured by its
// step's Config map. String config values are expanded against the
// execution variables before use.
package steps

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/micromdm/nanorpa/rpa"

	"github.com/micromdm/nanolib/log"
)

// Handler runs a single step attempt and returns its output variables.
type Handler func(ctx context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error)

// DefaultMaxLoopIterations bounds loop steps that do not set maxIterations.
const DefaultMaxLoopIterations = 1000

// Builtins holds the dependencies of the built-in handlers.
type Builtins struct {
	client   *http.Client
	mailer   Mailer
	logger   log.Logger
	maxLoop  int
	fileRoot string
}

// Option configures the built-in handlers.
type Option func(*Builtins)

// WithHTTPClient sets the HTTP client used by api_call steps.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Builtins) {
		b.client = client
	}
}

// WithMailer sets the mailer used by email_send steps.
func WithMailer(m Mailer) Option {
	return func(b *Builtins) {
		b.mailer = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(b *Builtins) {
		b.logger = logger
	}
}

// WithMaxLoopIterations sets the default loop iteration bound.
func WithMaxLoopIterations(n int) Option {
	return func(b *Builtins) {
		b.maxLoop = n
	}
}

// WithFileRoot restricts file_processing steps to files under dir.
func WithFileRoot(dir string) Option {
	return func(b *Builtins) {
		b.fileRoot = dir
	}
}

// New creates the built-in handlers.
func New(opts ...Option) *Builtins {
	b := &Builtins{
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  log.NopLogger,
		maxLoop: DefaultMaxLoopIterations,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.mailer == nil {
		b.mailer = NewLogMailer(b.logger)
	}
	return b
}

// Handlers returns the dispatch table entries for the built-in step types.
func (b *Builtins) Handlers() map[rpa.StepType]Handler {
	return map[rpa.StepType]Handler{
		rpa.StepDataExtraction: b.dataExtraction,
		rpa.StepDataEntry:      b.dataEntry,
		rpa.StepAPICall:        b.apiCall,
		rpa.StepEmailSend:      b.emailSend,
		rpa.StepFileProcessing: b.fileProcessing,
		rpa.StepDecision:       b.decision,
		rpa.StepLoop:           b.loop,
		rpa.StepDelay:          b.delay,
	}
}

// value returns the expanded config value for key.
func value(step *rpa.Step, ec *rpa.ExecutionContext, key string) (interface{}, bool) {
	v, ok := step.Config[key]
	if !ok {
		return nil, false
	}
	return ec.ExpandValue(v), true
}

// str returns the expanded config value for key as a string.
func str(step *rpa.Step, ec *rpa.ExecutionContext, key string) string {
	v, ok := value(step, ec, key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// requireStr returns the expanded config value for key or a configuration error if it is empty.
func requireStr(step *rpa.Step, ec *rpa.ExecutionContext, key string) (string, error) {
	s := str(step, ec, key)
	if s == "" {
		return "", rpa.NewConfigurationError("step %s: missing %s", step.ID, key)
	}
	return s, nil
}

// stringMap returns the expanded config value for key as a map of strings.
func stringMap(step *rpa.Step, ec *rpa.ExecutionContext, key string) (map[string]string, error) {
	v, ok := value(step, ec, key)
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, rpa.NewConfigurationError("step %s: %s must be a map", step.ID, key)
	}
	r := make(map[string]string, len(m))
	for k, mv := range m {
		if s, ok := mv.(string); ok {
			r[k] = s
		} else {
			r[k] = fmt.Sprint(mv)
		}
	}
	return r, nil
}

// integer returns the config value for key as an int.
func integer(step *rpa.Step, ec *rpa.ExecutionContext, key string) (int, bool, error) {
	v, ok := value(step, ec, key)
	if !ok || v == nil {
		return 0, false, nil
	}
	switch tv := v.(type) {
	case int:
		return tv, true, nil
	case int64:
		return int(tv), true, nil
	case float64:
		return int(tv), true, nil
	case string:
		i, err := strconv.Atoi(tv)
		if err != nil {
			return 0, false, rpa.NewConfigurationError("step %s: %s: %v", step.ID, key, err)
		}
		return i, true, nil
	}
	return 0, false, rpa.NewConfigurationError("step %s: %s must be a number", step.ID, key)
}

// duration returns the config value for key as a duration.
// Numbers are milliseconds and strings are Go durations.
func duration(step *rpa.Step, ec *rpa.ExecutionContext, key string) (time.Duration, error) {
	v, ok := value(step, ec, key)
	if !ok || v == nil {
		return 0, nil
	}
	switch tv := v.(type) {
	case int:
		return time.Duration(tv) * time.Millisecond, nil
	case int64:
		return time.Duration(tv) * time.Millisecond, nil
	case float64:
		return time.Duration(tv * float64(time.Millisecond)), nil
	case string:
		d, err := time.ParseDuration(tv)
		if err != nil {
			return 0, rpa.NewConfigurationError("step %s: %s: %v", step.ID, key, err)
		}
		return d, nil
	}
	return 0, rpa.NewConfigurationError("step %s: invalid %s", step.ID, key)
}
