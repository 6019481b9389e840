package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recoverer turns handler panics into 500 responses. http.ErrAbortHandler is
// re-raised so net/http drops the connection, which is how a stream that
// fails after its headers were sent is cut off.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.Error("panic recovered",
					requestIDAttr(r.Context()),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)

				if rw, ok := w.(*responseWriter); ok && rw.wroteHeader {
					panic(http.ErrAbortHandler)
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
