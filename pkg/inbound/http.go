package inbound

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/hookrelay/pkg/logger"
)

// DefaultMaxBodySize caps inbound request bodies.
const DefaultMaxBodySize int64 = 1 << 20

// Routes mounts POST /{source}. Mount it under a prefix such as /webhooks.
func (rc *Receiver) Routes(maxBody int64) chi.Router {
	r := chi.NewRouter()
	r.Post("/{source}", rc.ServeSource(maxBody))
	return r
}

// ServeSource is the HTTP adapter for HandleRequest. Signature failures answer
// 401 with a generic message; queued events answer 202.
func (rc *Receiver) ServeSource(maxBody int64) http.HandlerFunc {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "source")

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, ErrPayloadTooLarge.Error())
				return
			}
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		res, err := rc.HandleRequest(r.Context(), name, Request{Body: body, Header: r.Header})
		switch {
		case err == nil:
		case errors.Is(err, ErrInvalidSignature):
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		case errors.Is(err, ErrUnknownSource):
			writeError(w, http.StatusNotFound, "unknown source")
			return
		default:
			rc.logger.ErrorContext(r.Context(), "inbound request failed", logger.Source(name), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		status := http.StatusOK
		if res.Queued {
			status = http.StatusAccepted
		}
		writeJSON(w, status, res)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
