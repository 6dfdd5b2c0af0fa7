package httpmw

import (
	"net/http"

	"github.com/nanocms/nanocms/internal/log"
	"github.com/nanocms/nanocms/internal/xerrors"
)

// Recover converts handler panics into 500 responses. The panic value
// and a stack are logged through lg; onPanic, when non-nil, is called
// once per recovered panic (metrics hook).
func Recover(lg log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					// connection already torn down; let the server see it
					panic(v)
				}

				var err error
				if e, ok := v.(error); ok {
					err = xerrors.WithStack(e)
				} else {
					err = xerrors.Newf("panic: %v", v)
				}

				lg.Error(r.Context(), err, "httpserver panic recovered",
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)
				if onPanic != nil {
					onPanic()
				}

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
