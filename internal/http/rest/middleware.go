package rest

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/italolelis/yt_downloader/internal/logctx"
)

// Recoverer turns a panic into a 500 JSON body instead of a dropped connection.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "panic recovered",
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)

			writeJSON(w, r, http.StatusInternalServerError, ErrorResponse{
				Error:  "internal server error",
				Code:   CodeInternal,
				Detail: "unexpected error",
			})
		}()

		next.ServeHTTP(w, r)
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusNotFound, ErrorResponse{
		Error:  "route not found",
		Code:   CodeNotFound,
		Detail: r.Method + " " + r.URL.Path,
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusMethodNotAllowed, ErrorResponse{
		Error:  "method not allowed",
		Code:   "method_not_allowed",
		Detail: r.Method + " " + r.URL.Path,
	})
}
