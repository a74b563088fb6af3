package webutil

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// AppHandler represents a handler function that returns an error.
type AppHandler func(w http.ResponseWriter, r *http.Request) error

// MakeHandler adapts an AppHandler to the standard http.HandlerFunc
// signature, logging any returned error and sending a standardized
// JSON error response. The handler runs against a wrapped writer so
// MakeHandler can tell whether a response was already started before
// the error came back.
func MakeHandler(handler AppHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		err := handler(ww, r)
		if err == nil {
			return
		}

		var httpErr *HTTPError
		var publicMessage string
		var statusCode int

		switch {
		case errors.As(err, &httpErr):
			statusCode = httpErr.Code
			publicMessage = httpErr.Message
			logLevel := slog.LevelWarn
			if statusCode >= 500 {
				logLevel = slog.LevelError
			}
			slog.Log(r.Context(), logLevel, "Request error",
				"code", httpErr.Code,
				"msg", httpErr.Message,
				"cause", errors.Unwrap(httpErr),
				"path", r.URL.Path,
				"method", r.Method,
			)

		case errors.Is(err, sql.ErrNoRows):
			statusCode = http.StatusNotFound
			publicMessage = msgNotFound
			slog.Info("Resource not found", "path", r.URL.Path, "method", r.Method, "error", err)

		default:
			statusCode = http.StatusInternalServerError
			publicMessage = msgInternalServer
			slog.Error("Unhandled internal error", "path", r.URL.Path, "method", r.Method, "error", err)
		}

		if ww.Status() != 0 || ww.BytesWritten() > 0 {
			// The handler already started a response; nothing to send.
			slog.Warn("Handler returned error after writing response",
				"path", r.URL.Path,
				"method", r.Method,
				"error", err,
			)
			return
		}

		RespondWithJSON(ww, statusCode, map[string]string{"error": publicMessage})
	}
}
