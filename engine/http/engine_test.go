package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/micromdm/nanorpa/engine"
	"github.com/micromdm/nanorpa/engine/storage/inmem"
	"github.com/micromdm/nanorpa/provider"
	providertest "github.com/micromdm/nanorpa/provider/test"
	"github.com/micromdm/nanorpa/rpa"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
)

const shippingYAML = `
id: wf-shipping
name: Shipment tracking
variables:
  - name: shipment_id
    required: true
error_handling:
  max_attempts: 2
  delay: 10
steps:
  - id: scrape
    type: web_scraping
    integration:
      provider: axiom
      target_url: https://carrier.example.com/track/${shipment_id}
      selectors:
        - name: eta
          selector: "#eta"
  - id: extract
    type: data_extraction
    config:
      paths:
        arrival: eta
`

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	e := engine.New(
		inmem.New(),
		engine.WithProviders(provider.Registry{rpa.ProviderAxiom: providertest.NewFake(rpa.ProviderAxiom)}),
	)
	mux := flow.New()
	HandleAPIv1("/v1", mux, log.NopLogger, e)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, e
}

func doJSON(t *testing.T, method, url, contentType string, body []byte, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestAPIFlow(t *testing.T) {
	srv, e := newTestServer(t)

	bot := new(rpa.Bot)
	code := doJSON(t, "POST", srv.URL+"/v1/bots", "application/json", []byte(`{"name":"tracker","industry":"logistics"}`), bot)
	if have, want := code, http.StatusCreated; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}

	wf := new(rpa.Workflow)
	code = doJSON(t, "POST", srv.URL+"/v1/bots/"+bot.ID+"/workflows", "application/yaml", []byte(shippingYAML), wf)
	if have, want := code, http.StatusCreated; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := wf.Steps[0].Integration.ProviderBotID, "axiom-bot-1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	exec := new(engine.Execution)
	code = doJSON(t, "POST", srv.URL+"/v1/bots/"+bot.ID+"/workflows/wf-shipping/execute", "application/json", []byte(`{"input":{"shipment_id":"s-1"}}`), exec)
	if have, want := code, http.StatusAccepted; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if exec.TaskID == "" {
		t.Fatal("missing task id")
	}

	if err := engine.NewWorker(e, e.Queue()).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	task := new(rpa.Task)
	code = doJSON(t, "GET", srv.URL+"/v1/tasks/"+exec.TaskID, "", nil, task)
	if have, want := code, http.StatusOK; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := task.Status, rpa.TaskCompleted; have != want {
		t.Errorf("have: %v, want: %v (error: %s)", have, want, task.Error)
	}
	if have, want := task.Results[len(task.Results)-1].Output["arrival"], "eta-value"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	metrics := new(rpa.PerformanceMetrics)
	code = doJSON(t, "GET", srv.URL+"/v1/bots/"+bot.ID+"/metrics", "", nil, metrics)
	if have, want := code, http.StatusOK; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := metrics.ExecutionCount, int64(1); have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestAPIErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	bot := new(rpa.Bot)
	doJSON(t, "POST", srv.URL+"/v1/bots", "application/json", []byte(`{"name":"records","industry":"healthcare"}`), bot)

	for _, test := range []struct {
		name        string
		method      string
		path        string
		contentType string
		body        string
		want        int
	}{
		{"unknown bot", "GET", "/v1/bots/nope", "", "", http.StatusNotFound},
		{"unknown task", "GET", "/v1/tasks/nope", "", "", http.StatusNotFound},
		{"missing industry", "POST", "/v1/bots", "application/json", `{"name":"x"}`, http.StatusBadRequest},
		{"bad status", "PUT", "/v1/bots/" + bot.ID + "/status", "application/json", `{"status":"sleeping"}`, http.StatusBadRequest},
		{"invalid workflow", "POST", "/v1/bots/" + bot.ID + "/workflows", "application/json", `{"id":"w"}`, http.StatusBadRequest},
		{"compliance", "POST", "/v1/bots/" + bot.ID + "/workflows", "application/json", `{"id":"w","steps":[{"id":"s","type":"delay"}]}`, http.StatusUnprocessableEntity},
		{"not deployed", "POST", "/v1/bots/" + bot.ID + "/workflows/w/execute", "", "", http.StatusNotFound},
	} {
		t.Run(test.name, func(t *testing.T) {
			var out struct {
				Err string `json:"error"`
			}
			code := doJSON(t, test.method, srv.URL+test.path, test.contentType, []byte(test.body), &out)
			if have, want := code, test.want; have != want {
				t.Errorf("have: %v, want: %v (%s)", have, want, out.Err)
			}
			if strings.TrimSpace(out.Err) == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestBotsByIndustry(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, body := range []string{
		`{"name":"a","industry":"logistics"}`,
		`{"name":"b","industry":"financial"}`,
	} {
		doJSON(t, "POST", srv.URL+"/v1/bots", "application/json", []byte(body), nil)
	}
	var bots []*rpa.Bot
	if have, want := doJSON(t, "GET", srv.URL+"/v1/bots?industry=financial", "", nil, &bots), http.StatusOK; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if len(bots) != 1 || !bots[0].Config.ComplianceMode {
		t.Errorf("unexpected bots: %+v", bots)
	}
}
