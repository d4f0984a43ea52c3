package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/micromdm/nanorpa/rpa"
)

func TestErrorStatus(t *testing.T) {
	for _, test := range []struct {
		err  error
		want int
	}{
		{rpa.NewValidationError("bad"), http.StatusBadRequest},
		{rpa.NewNotFoundError("bot", "b1"), http.StatusNotFound},
		{&rpa.ComplianceError{Industry: "healthcare"}, http.StatusUnprocessableEntity},
		{rpa.NewConfigurationError("no adapter"), http.StatusUnprocessableEntity},
		{fmt.Errorf("deploy: %w", &rpa.ProviderError{Provider: rpa.ProviderZoho}), http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	} {
		if have, want := ErrorStatus(test.err), test.want; have != want {
			t.Errorf("%v: have: %v, want: %v", test.err, have, want)
		}
	}
}

func TestJSONErrorCompliance(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONError(rec, &rpa.ComplianceError{Industry: "healthcare", Missing: []string{rpa.FlagAuditTrail}}, 0)

	if have, want := rec.Code, http.StatusUnprocessableEntity; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	var body struct {
		Err     string   `json:"error"`
		Missing []string `json:"missing"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Missing) != 1 || body.Missing[0] != rpa.FlagAuditTrail {
		t.Errorf("unexpected missing: %v", body.Missing)
	}
}
