// Package test provides a conformance test suite for orchestrator storage backends.
package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/micromdm/nanorpa/engine/storage"
	"github.com/micromdm/nanorpa/rpa"
)

// TestStorage runs the storage conformance tests against fresh stores from newStorage.
func TestStorage(t *testing.T, newStorage func() storage.AllStorage) {
	t.Run("bots", func(t *testing.T) {
		testBots(t, newStorage())
	})
	t.Run("workflows", func(t *testing.T) {
		testWorkflows(t, newStorage())
	})
	t.Run("tasks", func(t *testing.T) {
		testTasks(t, newStorage())
	})
}

func testBots(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	_, err := s.RetrieveBot(ctx, "missing")
	if !errors.Is(err, rpa.ErrNotFound) {
		t.Errorf("expected not found, have: %v", err)
	}

	now := time.Now().Truncate(time.Second)
	bots := []*rpa.Bot{
		{ID: "b2", Name: "claims", Industry: "financial", Status: rpa.BotActive, CreatedAt: now.Add(time.Second)},
		{ID: "b1", Name: "routing", Industry: "logistics", Status: rpa.BotActive, CreatedAt: now},
		{ID: "b3", Name: "billing", Industry: "financial", Status: rpa.BotActive, CreatedAt: now},
	}
	for _, bot := range bots {
		if err = s.StoreBot(ctx, bot); err != nil {
			t.Fatal(err)
		}
	}

	bot, err := s.RetrieveBot(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := bot.Name, "routing"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	fin, err := s.RetrieveBotsByIndustry(ctx, "financial")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(fin), 2; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	// ordered by creation time
	if fin[0].ID != "b3" || fin[1].ID != "b2" {
		t.Errorf("unexpected order: %s, %s", fin[0].ID, fin[1].ID)
	}

	all, err := s.RetrieveBotsByIndustry(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(all), 3; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	none, err := s.RetrieveBotsByIndustry(ctx, "hospitality")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(none), 0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	// updates replace
	bot.Status = rpa.BotMaintenance
	bot.Metrics.ExecutionCount = 3
	if err = s.StoreBot(ctx, bot); err != nil {
		t.Fatal(err)
	}
	bot, err = s.RetrieveBot(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := bot.Status, rpa.BotMaintenance; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := bot.Metrics.ExecutionCount, int64(3); have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func testWorkflows(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	_, err := s.RetrieveWorkflow(ctx, "missing")
	if !errors.Is(err, rpa.ErrNotFound) {
		t.Errorf("expected not found, have: %v", err)
	}

	bot := &rpa.Bot{ID: "b1", Industry: "healthcare", Status: rpa.BotActive}
	if err = s.StoreBot(ctx, bot); err != nil {
		t.Fatal(err)
	}

	w := &rpa.Workflow{
		ID:   "w1",
		Name: "intake",
		Steps: []rpa.Step{
			{ID: "scrape", Type: rpa.StepWebScraping, Integration: &rpa.ProviderIntegration{
				Provider:      rpa.ProviderAxiom,
				ProviderBotID: "axiom-bot-1",
				Selectors:     []rpa.Selector{{Name: "mrn", Selector: "#mrn"}},
			}},
			{ID: "wait", Type: rpa.StepDelay, RetryPolicy: &rpa.RetryPolicy{MaxAttempts: 2, Delay: rpa.Duration(time.Second)}},
		},
		ComplianceSettings: &rpa.ComplianceSettings{
			ComplianceRequirements: rpa.ComplianceRequirements{HIPAA: true},
			Industry:               "healthcare",
		},
		ProviderBots: map[rpa.ProviderKind]string{rpa.ProviderAxiom: "axiom-bot-1"},
	}
	bot.Workflows = append(bot.Workflows, w.ID)
	if err = s.StoreDeployment(ctx, w, bot); err != nil {
		t.Fatal(err)
	}

	w2, err := s.RetrieveWorkflow(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(w2.Steps), 2; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := w2.Steps[0].Integration.ProviderBotID, "axiom-bot-1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := w2.Steps[1].RetryPolicy.Delay, rpa.Duration(time.Second); have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if w2.ComplianceSettings == nil || !w2.ComplianceSettings.HIPAA {
		t.Error("compliance settings not stored")
	}
	if have, want := w2.ProviderBots[rpa.ProviderAxiom], "axiom-bot-1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	bot2, err := s.RetrieveBot(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if !bot2.HasWorkflow("w1") {
		t.Error("deployment did not store bot")
	}

	// store a second workflow directly and list
	if err = s.StoreWorkflow(ctx, &rpa.Workflow{ID: "w0", Steps: []rpa.Step{{ID: "a", Type: rpa.StepDelay}}}); err != nil {
		t.Fatal(err)
	}
	workflows, err := s.RetrieveWorkflows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(workflows), 2; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if workflows[0].ID != "w0" || workflows[1].ID != "w1" {
		t.Errorf("unexpected order: %s, %s", workflows[0].ID, workflows[1].ID)
	}
}

func testTasks(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	_, err := s.RetrieveTask(ctx, "missing")
	if !errors.Is(err, rpa.ErrNotFound) {
		t.Errorf("expected not found, have: %v", err)
	}

	now := time.Now().Truncate(time.Second)
	tasks := []*rpa.Task{
		{ID: "t3", BotID: "b1", WorkflowID: "w1", Status: rpa.TaskQueued, QueuedAt: now.Add(2 * time.Second)},
		{ID: "t1", BotID: "b1", WorkflowID: "w1", Status: rpa.TaskQueued, QueuedAt: now},
		{ID: "t2", BotID: "b1", WorkflowID: "w1", Status: rpa.TaskRunning, QueuedAt: now.Add(time.Second)},
	}
	for _, task := range tasks {
		if err = s.StoreTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	queued, err := s.RetrieveTasksByStatus(ctx, rpa.TaskQueued)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(queued), 2; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if queued[0].ID != "t1" || queued[1].ID != "t3" {
		t.Errorf("unexpected order: %s, %s", queued[0].ID, queued[1].ID)
	}

	task, err := s.RetrieveTask(ctx, "t2")
	if err != nil {
		t.Fatal(err)
	}
	if err = task.Transition(rpa.TaskFailed, now.Add(3*time.Second)); err != nil {
		t.Fatal(err)
	}
	task.Error = "boom"
	task.Results = []rpa.StepRecord{
		{StepID: "a", Status: rpa.StepCompleted, Attempts: 1, Output: map[string]interface{}{"x": "y"}},
		{StepID: "b", Status: rpa.StepFailed, Attempts: 3, Error: "boom"},
	}
	if err = s.StoreTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	task, err = s.RetrieveTask(ctx, "t2")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := task.Status, rpa.TaskFailed; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := len(task.Results), 2; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if task.Results[0].StepID != "a" || task.Results[1].StepID != "b" {
		t.Error("step record order not preserved")
	}
	if have, want := task.Results[1].Attempts, 3; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}
