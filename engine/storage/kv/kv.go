// Package kv implements an orchestrator storage backend using JSON with key-value storage.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/micromdm/nanorpa/rpa"

	"github.com/micromdm/nanolib/storage/kv"
)

// KV is an orchestrator storage backend using JSON with key-value storage.
type KV struct {
	mu            sync.RWMutex
	botStore      kv.KeysPrefixTraversingBucket
	workflowStore kv.KeysPrefixTraversingBucket
	taskStore     kv.KeysPrefixTraversingBucket
}

// New creates a new key-value orchestrator storage backend.
func New(botStore, workflowStore, taskStore kv.KeysPrefixTraversingBucket) *KV {
	return &KV{
		botStore:      botStore,
		workflowStore: workflowStore,
		taskStore:     taskStore,
	}
}

func getJSON(ctx context.Context, b kv.Bucket, kind, id string, v interface{}) error {
	if id == "" {
		return rpa.NewValidationError("empty %s id", kind)
	}
	raw, err := b.Get(ctx, id)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return rpa.NewNotFoundError(kind, id)
	} else if err != nil {
		return fmt.Errorf("getting %s %s: %w", kind, id, err)
	}
	if err = json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal %s %s: %w", kind, id, err)
	}
	return nil
}

func setJSON(ctx context.Context, b kv.Bucket, kind, id string, v interface{}) error {
	if id == "" {
		return rpa.NewValidationError("empty %s id", kind)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", kind, id, err)
	}
	return b.Set(ctx, id, raw)
}

// keys collects the keys of b.
func keys(ctx context.Context, b kv.KeysPrefixTraversingBucket) []string {
	var r []string
	for k := range b.Keys(ctx, nil) {
		r = append(r, k)
	}
	return r
}

// StoreBot marshals bot into JSON and stores it using its id.
func (s *KV) StoreBot(ctx context.Context, bot *rpa.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setJSON(ctx, s.botStore, "bot", bot.ID, bot)
}

// RetrieveBot unmarshals the JSON stored using id and returns the bot.
func (s *KV) RetrieveBot(ctx context.Context, id string) (*rpa.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bot := new(rpa.Bot)
	return bot, getJSON(ctx, s.botStore, "bot", id, bot)
}

// RetrieveBotsByIndustry implements the storage interface method.
func (s *KV) RetrieveBotsByIndustry(ctx context.Context, industry string) ([]*rpa.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var bots []*rpa.Bot
	for _, id := range keys(ctx, s.botStore) {
		bot := new(rpa.Bot)
		if err := getJSON(ctx, s.botStore, "bot", id, bot); err != nil {
			return nil, err
		}
		if industry == "" || strings.EqualFold(bot.Industry, industry) {
			bots = append(bots, bot)
		}
	}
	sort.Slice(bots, func(i, j int) bool {
		if bots[i].CreatedAt.Equal(bots[j].CreatedAt) {
			return bots[i].ID < bots[j].ID
		}
		return bots[i].CreatedAt.Before(bots[j].CreatedAt)
	})
	return bots, nil
}

// StoreWorkflow marshals w into JSON and stores it using its id.
func (s *KV) StoreWorkflow(ctx context.Context, w *rpa.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setJSON(ctx, s.workflowStore, "workflow", w.ID, w)
}

// RetrieveWorkflow unmarshals the JSON stored using id and returns the workflow.
func (s *KV) RetrieveWorkflow(ctx context.Context, id string) (*rpa.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w := new(rpa.Workflow)
	return w, getJSON(ctx, s.workflowStore, "workflow", id, w)
}

// RetrieveWorkflows implements the storage interface method.
func (s *KV) RetrieveWorkflows(ctx context.Context) ([]*rpa.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := keys(ctx, s.workflowStore)
	sort.Strings(ids)
	var workflows []*rpa.Workflow
	for _, id := range ids {
		w := new(rpa.Workflow)
		if err := getJSON(ctx, s.workflowStore, "workflow", id, w); err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, nil
}

// StoreDeployment stores w and then bot.
// If storing bot fails the previous workflow value is restored.
func (s *KV) StoreDeployment(ctx context.Context, w *rpa.Workflow, bot *rpa.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.workflowStore.Get(ctx, w.ID)
	hadPrev := err == nil
	if err = setJSON(ctx, s.workflowStore, "workflow", w.ID, w); err != nil {
		return err
	}
	if err = setJSON(ctx, s.botStore, "bot", bot.ID, bot); err != nil {
		var rbErr error
		if hadPrev {
			rbErr = s.workflowStore.Set(ctx, w.ID, prev)
		} else {
			rbErr = s.workflowStore.Delete(ctx, w.ID)
		}
		if rbErr != nil {
			return fmt.Errorf("restoring workflow: %v; while trying to handle error: %w", rbErr, err)
		}
		return err
	}
	return nil
}

// StoreTask marshals t into JSON and stores it using its id.
func (s *KV) StoreTask(ctx context.Context, t *rpa.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setJSON(ctx, s.taskStore, "task", t.ID, t)
}

// RetrieveTask unmarshals the JSON stored using id and returns the task.
func (s *KV) RetrieveTask(ctx context.Context, id string) (*rpa.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := new(rpa.Task)
	return t, getJSON(ctx, s.taskStore, "task", id, t)
}

// RetrieveTasksByStatus implements the storage interface method.
func (s *KV) RetrieveTasksByStatus(ctx context.Context, status rpa.TaskStatus) ([]*rpa.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []*rpa.Task
	for _, id := range keys(ctx, s.taskStore) {
		t := new(rpa.Task)
		if err := getJSON(ctx, s.taskStore, "task", id, t); err != nil {
			return nil, err
		}
		if t.Status == status {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].QueuedAt.Equal(tasks[j].QueuedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].QueuedAt.Before(tasks[j].QueuedAt)
	})
	return tasks, nil
}
