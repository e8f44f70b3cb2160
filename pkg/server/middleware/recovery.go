package middleware

import (
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/osaurus-ai/osaurus/pkg/stream"
	"github.com/osaurus-ai/osaurus/pkg/types"
)

// Recovery converts handler panics into the standard 500 envelope when no
// headers have been written yet, and logs the stack either way. A panic after
// headers (mid-stream) just drops the connection.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				if ww.Status() == 0 {
					_ = stream.WriteJSON(ww, http.StatusInternalServerError, types.ErrorResponse{
						Error: types.NewInternalError("internal server error"),
					})
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
