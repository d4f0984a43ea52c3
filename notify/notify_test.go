package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/micromdm/nanorpa/engine"
	"github.com/micromdm/nanorpa/engine/steps"
	"github.com/micromdm/nanorpa/rpa"
)

func TestWebhook(t *testing.T) {
	var have Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&have); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	esc := &engine.Escalation{
		Action:   "webhook",
		TaskID:   "t1",
		StepID:   "scrape",
		StepType: rpa.StepWebScraping,
		Attempts: 3,
		Err:      errors.New("provider error: axiom: status 503"),
	}
	if err := NewWebhook(srv.URL, srv.Client()).Notify(context.Background(), esc); err != nil {
		t.Fatal(err)
	}
	if have.TaskID != "t1" || have.StepType != "web_scraping" || have.Attempts != 3 || have.Error == "" {
		t.Errorf("unexpected payload: %+v", have)
	}
}

func TestWebhookStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, srv.Client()).Notify(context.Background(), &engine.Escalation{})
	if err == nil {
		t.Error("expected error")
	}
}

type recordingMailer struct {
	msgs []*steps.Message
}

func (m *recordingMailer) Send(_ context.Context, msg *steps.Message) error {
	m.msgs = append(m.msgs, msg)
	return nil
}

func TestMail(t *testing.T) {
	m := &recordingMailer{}
	esc := &engine.Escalation{WorkflowID: "wf-claims", StepID: "submit", Attempts: 2, Err: errors.New("rejected")}
	if err := NewMail(m, "ops@example.com").Notify(context.Background(), esc); err != nil {
		t.Fatal(err)
	}
	if have, want := len(m.msgs), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := m.msgs[0].Subject, "step submit of workflow wf-claims failed"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	if err := NewMail(m).Notify(context.Background(), esc); err == nil {
		t.Error("expected error")
	}
}
