package steps

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/micromdm/nanorpa/rpa"
)

func newContext(vars map[string]interface{}) *rpa.ExecutionContext {
	ec := rpa.NewExecutionContext(&rpa.Task{ID: "t1", BotID: "b1", WorkflowID: "w1"}, nil)
	for k, v := range vars {
		ec.Variables[k] = v
	}
	return ec
}

func TestHandlersCoverBuiltinTypes(t *testing.T) {
	h := New().Handlers()
	for _, st := range rpa.StepTypes {
		_, ok := h[st]
		if have, want := ok, !st.ProviderBacked(); have != want {
			t.Errorf("%s: have: %v, want: %v", st, have, want)
		}
	}
}

func TestDataExtraction(t *testing.T) {
	b := New()
	ec := newContext(map[string]interface{}{
		"payload": `{"order":{"id":"o-1","lines":[{"sku":"a"},{"sku":"b"}]}}`,
	})
	step := &rpa.Step{
		ID: "extract",
		Config: map[string]interface{}{
			"source": "payload",
			"paths": map[string]interface{}{
				"order_id":   "order.id",
				"line_count": "order.lines.#",
				"missing":    "order.nope",
			},
		},
	}

	out, err := b.dataExtraction(context.Background(), step, ec)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := out["order_id"], "o-1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := out["line_count"], float64(2); have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if _, ok := out["missing"]; ok {
		t.Error("unexpected output for missing path")
	}

	step.Config["strict"] = true
	_, err = b.dataExtraction(context.Background(), step, ec)
	if !errors.Is(err, rpa.ErrValidation) {
		t.Errorf("expected validation error, have: %v", err)
	}
}

func TestDataEntryExpands(t *testing.T) {
	ec := newContext(map[string]interface{}{"customer": "acme"})
	step := &rpa.Step{
		ID: "enter",
		Config: map[string]interface{}{
			"values": map[string]interface{}{
				"account": "${customer}",
				"region":  "${region:us-east}",
			},
		},
	}
	out, err := New().dataEntry(context.Background(), step, ec)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{"account": "acme", "region": "us-east"}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("have: %v, want: %v", out, want)
	}
}

func TestAPICall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Header.Get("X-Token") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"shipped":true}`))
		case "/bad":
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	b := New(WithHTTPClient(srv.Client()))
	ec := newContext(map[string]interface{}{"base": srv.URL})

	step := &rpa.Step{ID: "call", Config: map[string]interface{}{
		"url":     "${base}/ok",
		"method":  "post",
		"headers": map[string]interface{}{"X-Token": "secret"},
		"body":    map[string]interface{}{"id": 1},
	}}
	out, err := b.apiCall(context.Background(), step, ec)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := out["status_code"], http.StatusOK; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := out["response"], map[string]interface{}{"shipped": true}; !reflect.DeepEqual(have, want) {
		t.Errorf("have: %v, want: %v", have, want)
	}

	for _, test := range []struct {
		path      string
		retryable bool
	}{
		{"/bad", false},
		{"/down", true},
	} {
		step := &rpa.Step{ID: "call", Config: map[string]interface{}{"url": srv.URL + test.path}}
		_, err := b.apiCall(context.Background(), step, ec)
		if err == nil {
			t.Fatalf("%s: expected error", test.path)
		}
		if have, want := rpa.IsRetryable(err), test.retryable; have != want {
			t.Errorf("%s: have: %v, want: %v", test.path, have, want)
		}
	}
}

type recordingMailer struct {
	msgs []*Message
}

func (m *recordingMailer) Send(_ context.Context, msg *Message) error {
	m.msgs = append(m.msgs, msg)
	return nil
}

func TestEmailSend(t *testing.T) {
	m := &recordingMailer{}
	ec := newContext(map[string]interface{}{"order_id": "o-1"})
	step := &rpa.Step{ID: "mail", Config: map[string]interface{}{
		"to":      "ops@example.com, ",
		"subject": "order ${order_id}",
		"body":    "done",
	}}
	out, err := New(WithMailer(m)).emailSend(context.Background(), step, ec)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := out["email_recipients"], 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := len(m.msgs), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := m.msgs[0].Subject, "order o-1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	_, err = New().emailSend(context.Background(), &rpa.Step{ID: "mail"}, ec)
	if !errors.Is(err, rpa.ErrConfiguration) {
		t.Errorf("expected configuration error, have: %v", err)
	}
}

func TestFileProcessing(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "in.csv"), []byte("a,b\nc,d\n"), 0644); err != nil {
		t.Fatal(err)
	}
	b := New(WithFileRoot(dir))
	ec := newContext(nil)

	step := &rpa.Step{ID: "file", Config: map[string]interface{}{"path": "in.csv", "read": true}}
	out, err := b.fileProcessing(context.Background(), step, ec)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := out["file_size"], int64(8); have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := out["line_count"], 2; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := out["content"], "a,b\nc,d\n"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := len(out["sha256"].(string)), 64; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	step.Config["path"] = "missing.csv"
	_, err = b.fileProcessing(context.Background(), step, ec)
	if !errors.Is(err, rpa.ErrValidation) {
		t.Errorf("expected validation error, have: %v", err)
	}
}

func TestDecision(t *testing.T) {
	b := New()
	for _, test := range []struct {
		name      string
		condition string
		want      bool
		errIs     error
	}{
		{"global", "amount > 100", true, nil},
		{"vars", "vars.region === 'eu'", false, nil},
		{"syntax", "amount >", false, rpa.ErrConfiguration},
		{"throws", "undefinedFn()", false, rpa.ErrValidation},
	} {
		t.Run(test.name, func(t *testing.T) {
			ec := newContext(map[string]interface{}{"amount": 250, "region": "us"})
			step := &rpa.Step{ID: "d", Config: map[string]interface{}{
				"condition": test.condition,
				"then":      "approve",
				"else":      "review",
			}}
			out, err := b.decision(context.Background(), step, ec)
			if test.errIs != nil {
				if !errors.Is(err, test.errIs) {
					t.Fatalf("have: %v, want: %v", err, test.errIs)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if have, want := out["decision"], test.want; have != want {
				t.Errorf("have: %v, want: %v", have, want)
			}
			branch := "review"
			if test.want {
				branch = "approve"
			}
			if have, want := out["branch"], branch; have != want {
				t.Errorf("have: %v, want: %v", have, want)
			}
		})
	}
}

func TestDecisionLeavesVariablesUnchanged(t *testing.T) {
	b := New()
	ec := newContext(map[string]interface{}{
		"amount":   250,
		"customer": map[string]interface{}{"tier": "gold"},
		"tags":     []interface{}{"priority"},
	})
	step := &rpa.Step{ID: "d", Config: map[string]interface{}{
		"condition": "vars.amount = 1, vars.injected = true, customer.tier = 'none', tags[0] = 'x', amount === 250",
	}}
	out, err := b.decision(context.Background(), step, ec)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := out["decision"], true; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := ec.Variables["amount"], 250; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if _, ok := ec.Variables["injected"]; ok {
		t.Error("condition added a variable")
	}
	if have, want := ec.Variables["customer"].(map[string]interface{})["tier"], "gold"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := ec.Variables["tags"].([]interface{})[0], "priority"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestDecisionInterrupted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	step := &rpa.Step{ID: "d", Config: map[string]interface{}{"condition": "while (true) {}"}}
	_, err := New().decision(ctx, step, newContext(nil))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, have: %v", err)
	}
}

func TestLoop(t *testing.T) {
	b := New(WithMaxLoopIterations(2))
	ec := newContext(map[string]interface{}{
		"orders": []interface{}{"o-1", "o-2", "o-3"},
	})
	step := &rpa.Step{ID: "loop", Config: map[string]interface{}{
		"items":    "orders",
		"variable": "order",
	}}
	out, err := b.loop(context.Background(), step, ec)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := out["iterations"], 2; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := out["order"], "o-2"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	step.Config["maxIterations"] = 5
	if out, err = b.loop(context.Background(), step, ec); err != nil {
		t.Fatal(err)
	}
	if have, want := out["iterations"], 3; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestDelay(t *testing.T) {
	b := New()
	step := &rpa.Step{ID: "wait", Config: map[string]interface{}{"duration": "10ms"}}
	out, err := b.delay(context.Background(), step, newContext(nil))
	if err != nil {
		t.Fatal(err)
	}
	if have, want := out["delayed_ms"], int64(10); have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	step.Config["duration"] = 60000
	_, err = b.delay(ctx, step, newContext(nil))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected canceled, have: %v", err)
	}
}
