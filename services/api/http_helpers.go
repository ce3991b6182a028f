package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"escapade/services/game"
)

const requestTimeout = 10 * time.Second

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return game.Invalid("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return game.Invalid(fmt.Sprintf("decode request: %v", err))
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, errorBody{Error: err.Error(), Code: game.ReasonOf(err)})
}

// statusFor maps a business error to its HTTP status.
func statusFor(err error) int {
	switch game.KindOf(err) {
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindInvalidState, game.KindConflict:
		return http.StatusConflict
	case game.KindPolicyDenied:
		return http.StatusForbidden
	case game.KindAlreadyExpired, game.KindInvalidArgument:
		return http.StatusBadRequest
	case game.KindContention:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		// Internal detail stays in the log.
		respondError(w, status, errors.New("internal error"))
		return
	}
	respondError(w, status, err)
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, game.Invalid(name + " must be a UUID")
	}
	return id, nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, requestTimeout)
}
