package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/micromdm/nanorpa/engine"
	"github.com/micromdm/nanorpa/rpa"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
)

type fakeFirer struct {
	event string
	input map[string]interface{}
	execs []*engine.Execution
	err   error
}

func (f *fakeFirer) Fire(_ context.Context, event string, input map[string]interface{}) ([]*engine.Execution, error) {
	f.event = event
	f.input = input
	return f.execs, f.err
}

func serve(t *testing.T, f EventFirer, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := flow.New()
	mux.Handle("/v1/events/:event", EventHandler(f, log.NopLogger), "POST")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/events/invoice.paid", bytes.NewBufferString(body)))
	return rec
}

func TestEventHandler(t *testing.T) {
	f := &fakeFirer{execs: []*engine.Execution{{TaskID: "t1"}}}
	rec := serve(t, f, `{"input":{"invoice":"INV-9"}}`)
	if have, want := rec.Code, http.StatusAccepted; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := f.event, "invoice.paid"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := f.input["invoice"], "INV-9"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	resp := new(eventResponse)
	if err := json.NewDecoder(rec.Body).Decode(resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Executions) != 1 || resp.Executions[0].TaskID != "t1" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestEventHandlerErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		firer *fakeFirer
		body  string
		code  int
	}{
		{"bad body", &fakeFirer{}, "{", http.StatusBadRequest},
		{"no subscribers", &fakeFirer{err: rpa.NewNotFoundError("event subscription", "invoice.paid")}, "", http.StatusNotFound},
		{"partial", &fakeFirer{execs: []*engine.Execution{{TaskID: "t1"}}, err: errors.New("bot inactive")}, "", http.StatusAccepted},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if have, want := serve(t, tc.firer, tc.body).Code, tc.code; have != want {
				t.Errorf("have: %v, want: %v", have, want)
			}
		})
	}
}
