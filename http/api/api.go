// Package api contains helpers for JSON HTTP APIs.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/micromdm/nanorpa/rpa"
)

// JSONError encodes err as JSON to w.
// If statusCode is less than 1 it is derived from err using ErrorStatus.
func JSONError(w http.ResponseWriter, err error, statusCode int) {
	jsonErr := &struct {
		Err string `json:"error"`

		// Missing is the list of missing settings of a compliance error.
		Missing []string `json:"missing,omitempty"`
	}{Err: err.Error()}
	var compErr *rpa.ComplianceError
	if errors.As(err, &compErr) {
		jsonErr.Missing = compErr.Missing
	}
	if statusCode < 1 {
		statusCode = ErrorStatus(err)
	}
	JSON(w, jsonErr, statusCode)
}

// JSON encodes v as JSON to w with statusCode.
func JSON(w http.ResponseWriter, v interface{}, statusCode int) error {
	w.Header().Set("Content-type", "application/json")
	if statusCode > 0 {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(v)
}

// ErrorStatus maps err to an HTTP status code.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, rpa.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, rpa.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rpa.ErrCompliance), errors.Is(err, rpa.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rpa.ErrProvider):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
