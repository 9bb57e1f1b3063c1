package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/mwork/consent-engine/internal/pkg/logger"
	"github.com/mwork/consent-engine/internal/pkg/response"
)

// Recover turns a handler panic into a 500 envelope
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			logger.FromContext(r.Context()).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("path", r.URL.Path).
				Msg("Panic recovered")
			response.InternalError(w)
		}()

		next.ServeHTTP(w, r)
	})
}
