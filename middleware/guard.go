package middleware

import (
	"context"
	"net/http"

	goRecover "github.com/MrEthical07/goRecover"
)

type sessionContextKey struct{}

// Snapshotter is the read side of a goRecover.SessionStore.
type Snapshotter interface {
	Snapshot() goRecover.Session
}

// Resolver finds the session store owning the request, typically by a
// device or browser cookie.
type Resolver func(*http.Request) (Snapshotter, error)

// SessionFromContext returns the session snapshot taken by ScreenGuard.
func SessionFromContext(ctx context.Context) (goRecover.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(goRecover.Session)
	return s, ok
}

// ScreenGuard serves the wrapped handler only when screen is the one the
// session allows. Otherwise it answers 303 See Other to the allowed screen's
// path. Screens missing from paths are answered with 404.
func ScreenGuard(resolve Resolver, screen goRecover.Screen, paths map[goRecover.Screen]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolve == nil {
				http.Error(w, "recovery unavailable", http.StatusServiceUnavailable)
				return
			}
			store, err := resolve(r)
			if err != nil || store == nil {
				http.Error(w, "recovery unavailable", http.StatusServiceUnavailable)
				return
			}

			snap := store.Snapshot()
			if target, redirect := goRecover.Redirect(screen, snap); redirect {
				path, ok := paths[target]
				if !ok {
					http.NotFound(w, r)
					return
				}
				http.Redirect(w, r, path, http.StatusSeeOther)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, snap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
