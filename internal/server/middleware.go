package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jonwraymond/payrelay/observe"
)

// requestLogger logs one line per request at a level matching the status.
func requestLogger(logger observe.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []observe.Field{
				observe.F("method", r.Method),
				observe.F("path", r.URL.Path),
				observe.F("status_code", status),
				observe.F("bytes", ww.BytesWritten()),
				observe.F("duration_ms", time.Since(start).Milliseconds()),
				observe.F("request_id", middleware.GetReqID(r.Context())),
			}
			switch {
			case status >= 500:
				logger.Error(r.Context(), "http request completed", fields...)
			case status >= 400:
				logger.Warn(r.Context(), "http request completed", fields...)
			default:
				logger.Debug(r.Context(), "http request completed", fields...)
			}
		})
	}
}

// recoverer turns a handler panic into a logged 500.
func recoverer(logger observe.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error(r.Context(), "panic recovered",
					observe.F("method", r.Method),
					observe.F("path", r.URL.Path),
					observe.F("panic", rec),
					observe.F("request_id", middleware.GetReqID(r.Context())))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
