package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tabshare/internal/errs"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string    `json:"error"`
	Kind  errs.Kind `json:"kind"`

	// Over-claim details, present only when Kind is over_claimed.
	ItemID              *string  `json:"itemId,omitempty"`
	RemainingPercentage *float64 `json:"remainingPercentage,omitempty"`
}

// statusForKind maps the error taxonomy to HTTP status codes.
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindExpired:
		return http.StatusGone
	case errs.KindNotReady, errs.KindConflict, errs.KindOverClaimed:
		return http.StatusConflict
	case errs.KindInvalidInput:
		return http.StatusBadRequest
	case errs.KindAnalysisFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := statusForKind(kind)
	if status >= 500 {
		slog.Error("request failed", "kind", kind, "error", err)
	}

	body := errorBody{Error: err.Error(), Kind: kind}
	var oc *errs.OverClaimedError
	if errors.As(err, &oc) {
		remaining := 100 - oc.Current
		if remaining < 0 {
			remaining = 0
		}
		body.ItemID = &oc.ItemID
		body.RemainingPercentage = &remaining
	}
	writeJSON(w, status, body)
}

// decode parses a JSON request body into dst, rejecting unknown fields.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.KindInvalidInput, err, "invalid request body")
	}
	return nil
}
