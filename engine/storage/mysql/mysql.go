// Package mysql implements an orchestrator storage backend using MySQL.
// Entities are stored as JSON documents alongside the columns needed to query them.
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/micromdm/nanorpa/rpa"
)

// Schema contains the MySQL schema for the orchestrator storage.
//
//go:embed schema.sql
var Schema string

// MySQLStorage implements a storage.AllStorage using MySQL.
type MySQLStorage struct {
	db *sql.DB
}

type config struct {
	driver string
	dsn    string
	db     *sql.DB
}

// Option allows configuring a MySQLStorage.
type Option func(*config)

// WithDSN sets the storage MySQL data source name.
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithDriver sets a custom MySQL driver for the storage.
// Default driver is "mysql" but is ignored if WithDB is used.
func WithDriver(driver string) Option {
	return func(c *config) {
		c.driver = driver
	}
}

// WithDB sets a custom MySQL *sql.DB to the storage.
// If set, driver passed via WithDriver is ignored.
func WithDB(db *sql.DB) Option {
	return func(c *config) {
		c.db = db
	}
}

// New creates and returns a new MySQL.
func New(opts ...Option) (*MySQLStorage, error) {
	cfg := &config{driver: "mysql"}
	for _, opt := range opts {
		opt(cfg)
	}
	var err error
	if cfg.db == nil {
		cfg.db, err = sql.Open(cfg.driver, cfg.dsn)
		if err != nil {
			return nil, err
		}
	}
	if err = cfg.db.Ping(); err != nil {
		return nil, err
	}
	return &MySQLStorage{db: cfg.db}, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// txcb executes SQL within transactions when wrapped in tx().
type txcb func(ctx context.Context, tx *sql.Tx) error

// tx wraps g in transactions using db.
// If g returns an err the transaction will be rolled back; otherwise committed.
func tx(ctx context.Context, db *sql.DB, g txcb) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin: %w", err)
	}
	if err = g(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx rollback: %w; while trying to handle error: %v", rbErr, err)
		}
		return fmt.Errorf("tx rolled back: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	return nil
}

func storeBot(ctx context.Context, e execer, bot *rpa.Bot) error {
	if bot.ID == "" {
		return rpa.NewValidationError("empty bot id")
	}
	raw, err := json.Marshal(bot)
	if err != nil {
		return fmt.Errorf("marshal bot: %w", err)
	}
	_, err = e.ExecContext(
		ctx,
		`INSERT INTO bots (id, industry, bot_json, created_at) VALUES (?, ?, ?, ?) AS new
ON DUPLICATE KEY UPDATE industry = new.industry, bot_json = new.bot_json;`,
		bot.ID, bot.Industry, raw, bot.CreatedAt,
	)
	return err
}

func storeWorkflow(ctx context.Context, e execer, w *rpa.Workflow) error {
	if w.ID == "" {
		return rpa.NewValidationError("empty workflow id")
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = e.ExecContext(
		ctx,
		`INSERT INTO workflows (id, workflow_json) VALUES (?, ?) AS new
ON DUPLICATE KEY UPDATE workflow_json = new.workflow_json;`,
		w.ID, raw,
	)
	return err
}

// StoreBot implements the storage interface method.
func (s *MySQLStorage) StoreBot(ctx context.Context, bot *rpa.Bot) error {
	return storeBot(ctx, s.db, bot)
}

// retrieveJSON selects a single JSON document and unmarshals it into v.
func (s *MySQLStorage) retrieveJSON(ctx context.Context, kind, query, id string, v interface{}) error {
	if id == "" {
		return rpa.NewValidationError("empty %s id", kind)
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return rpa.NewNotFoundError(kind, id)
	} else if err != nil {
		return fmt.Errorf("select %s %s: %w", kind, id, err)
	}
	if err = json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal %s %s: %w", kind, id, err)
	}
	return nil
}

// RetrieveBot implements the storage interface method.
func (s *MySQLStorage) RetrieveBot(ctx context.Context, id string) (*rpa.Bot, error) {
	bot := new(rpa.Bot)
	return bot, s.retrieveJSON(ctx, "bot", `SELECT bot_json FROM bots WHERE id = ?;`, id, bot)
}

// queryJSON runs query and returns each row's single JSON column.
func (s *MySQLStorage) queryJSON(ctx context.Context, query string, args ...interface{}) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var r [][]byte
	for rows.Next() {
		var raw []byte
		if err = rows.Scan(&raw); err != nil {
			return nil, err
		}
		r = append(r, raw)
	}
	return r, rows.Err()
}

// RetrieveBotsByIndustry implements the storage interface method.
func (s *MySQLStorage) RetrieveBotsByIndustry(ctx context.Context, industry string) ([]*rpa.Bot, error) {
	raws, err := s.queryJSON(
		ctx,
		`SELECT bot_json FROM bots WHERE (? = '' OR industry = ?) ORDER BY created_at, id;`,
		industry, industry,
	)
	if err != nil {
		return nil, fmt.Errorf("select bots: %w", err)
	}
	var bots []*rpa.Bot
	for _, raw := range raws {
		bot := new(rpa.Bot)
		if err = json.Unmarshal(raw, bot); err != nil {
			return nil, fmt.Errorf("unmarshal bot: %w", err)
		}
		bots = append(bots, bot)
	}
	return bots, nil
}

// StoreWorkflow implements the storage interface method.
func (s *MySQLStorage) StoreWorkflow(ctx context.Context, w *rpa.Workflow) error {
	return storeWorkflow(ctx, s.db, w)
}

// RetrieveWorkflow implements the storage interface method.
func (s *MySQLStorage) RetrieveWorkflow(ctx context.Context, id string) (*rpa.Workflow, error) {
	w := new(rpa.Workflow)
	return w, s.retrieveJSON(ctx, "workflow", `SELECT workflow_json FROM workflows WHERE id = ?;`, id, w)
}

// RetrieveWorkflows implements the storage interface method.
func (s *MySQLStorage) RetrieveWorkflows(ctx context.Context) ([]*rpa.Workflow, error) {
	raws, err := s.queryJSON(ctx, `SELECT workflow_json FROM workflows ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("select workflows: %w", err)
	}
	var workflows []*rpa.Workflow
	for _, raw := range raws {
		w := new(rpa.Workflow)
		if err = json.Unmarshal(raw, w); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	return workflows, nil
}

// StoreDeployment stores w and bot in a single transaction.
func (s *MySQLStorage) StoreDeployment(ctx context.Context, w *rpa.Workflow, bot *rpa.Bot) error {
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := storeWorkflow(ctx, tx, w); err != nil {
			return fmt.Errorf("store workflow: %w", err)
		}
		if err := storeBot(ctx, tx, bot); err != nil {
			return fmt.Errorf("store bot: %w", err)
		}
		return nil
	})
}

// StoreTask implements the storage interface method.
func (s *MySQLStorage) StoreTask(ctx context.Context, t *rpa.Task) error {
	if t.ID == "" {
		return rpa.NewValidationError("empty task id")
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO tasks (id, bot_id, workflow_id, status, queued_at, task_json) VALUES (?, ?, ?, ?, ?, ?) AS new
ON DUPLICATE KEY UPDATE status = new.status, task_json = new.task_json;`,
		t.ID, t.BotID, t.WorkflowID, string(t.Status), t.QueuedAt, raw,
	)
	return err
}

// RetrieveTask implements the storage interface method.
func (s *MySQLStorage) RetrieveTask(ctx context.Context, id string) (*rpa.Task, error) {
	t := new(rpa.Task)
	return t, s.retrieveJSON(ctx, "task", `SELECT task_json FROM tasks WHERE id = ?;`, id, t)
}

// RetrieveTasksByStatus implements the storage interface method.
func (s *MySQLStorage) RetrieveTasksByStatus(ctx context.Context, status rpa.TaskStatus) ([]*rpa.Task, error) {
	raws, err := s.queryJSON(
		ctx,
		`SELECT task_json FROM tasks WHERE status = ? ORDER BY queued_at, id;`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	var tasks []*rpa.Task
	for _, raw := range raws {
		t := new(rpa.Task)
		if err = json.Unmarshal(raw, t); err != nil {
			return nil, fmt.Errorf("unmarshal task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
