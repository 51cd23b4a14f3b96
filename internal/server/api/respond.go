// Package api holds the HTTP handlers of the river service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"reddot-watch/river/internal/likes"
	"reddot-watch/river/internal/storage"
)

const defaultLimit = 100
const maxLimit = 1000

// errBadRequest marks errors caused by the request itself.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor maps a handler error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, storage.ErrConstraint),
		errors.Is(err, likes.ErrInvalidSubscriber):
		return http.StatusBadRequest
	case errors.Is(err, likes.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := hlog.FromRequest(r)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
		writeJSON(w, r, status, errorBody{Error: http.StatusText(status)})
		return
	}
	log.Warn().Err(err).Int("status", status).Msg("Request rejected")
	writeJSON(w, r, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
		return
	}
	log.Debug().Int("bytes_written", len(jsonBytes)).Msg("Response completed")
}

// parseLimit reads an optional positive integer parameter capped at upper.
func parseLimit(r *http.Request, name string, def, upper int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > upper {
		return 0, badRequest("invalid '%s' parameter: must be between 1 and %d", name, upper)
	}
	return n, nil
}

// subscriberFrom reads the caller's subscriber id from the X-Subscriber
// header or the subscriber parameter.
func subscriberFrom(r *http.Request) string {
	if s := r.Header.Get("X-Subscriber"); s != "" {
		return s
	}
	return r.URL.Query().Get("subscriber")
}
