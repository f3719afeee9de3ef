package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

type sessionContextKey struct{}

func WithSession(ctx context.Context, claims SessionClaims) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, claims)
}

func SessionFromContext(ctx context.Context) (SessionClaims, bool) {
	claims, ok := ctx.Value(sessionContextKey{}).(SessionClaims)
	return claims, ok
}

// RoleArea maps a path prefix to the role allowed inside it, plus that role's
// login entry point and post-login landing page.
type RoleArea struct {
	Role       Role
	PathPrefix string
	LoginPath  string
	HomePath   string
}

// RouteGuard intercepts every request into a role area and checks the session
// cookie's signature and expiry. It never touches storage; the storage-backed
// RequireFresh check is reserved for privileged routes.
type RouteGuard struct {
	codec     *TokenCodec
	integrity *SessionIntegrityChecker
	areas     []RoleArea
}

func NewRouteGuard(codec *TokenCodec, integrity *SessionIntegrityChecker, areas []RoleArea) *RouteGuard {
	return &RouteGuard{codec: codec, integrity: integrity, areas: areas}
}

func (g *RouteGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		area, guarded := g.match(r.URL.Path)
		if !guarded {
			next.ServeHTTP(w, r)
			return
		}

		claims, present, valid := g.sessionFromRequest(r)

		if isLoginPath(area, r.URL.Path) {
			// A valid session of the matching role skips the form entirely;
			// re-visiting the entry point never re-issues a token.
			if valid && claims.Role == area.Role {
				http.Redirect(w, r, area.HomePath, http.StatusSeeOther)
				return
			}
			if present && !valid {
				clearSessionCookie(w, r)
			}
			next.ServeHTTP(w, r)
			return
		}

		if !present {
			http.Redirect(w, r, area.LoginPath, http.StatusSeeOther)
			return
		}
		if !valid {
			// Uniform redirect: the client learns nothing about whether the
			// token was expired, tampered or malformed.
			clearSessionCookie(w, r)
			http.Redirect(w, r, area.LoginPath, http.StatusSeeOther)
			return
		}
		if claims.Role != area.Role {
			http.Redirect(w, r, area.LoginPath, http.StatusSeeOther)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), claims)))
	})
}

// RequireFresh revalidates the session against storage before privileged
// handlers run. An integrity failure clears the cookie and forces
// re-authentication.
func (g *RouteGuard) RequireFresh(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := SessionFromContext(r.Context())
		if !ok {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		fresh, err := g.integrity.Revalidate(r.Context(), claims)
		if err != nil {
			sentry.CaptureException(err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !fresh {
			clearSessionCookie(w, r)
			http.Redirect(w, r, g.loginPathForRole(claims.Role), http.StatusSeeOther)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *RouteGuard) match(path string) (RoleArea, bool) {
	for _, area := range g.areas {
		if path == area.PathPrefix || strings.HasPrefix(path, area.PathPrefix+"/") {
			return area, true
		}
	}
	return RoleArea{}, false
}

func (g *RouteGuard) sessionFromRequest(r *http.Request) (SessionClaims, bool, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return SessionClaims{}, false, false
	}

	claims, err := g.codec.VerifySession(cookie.Value)
	if err != nil {
		return SessionClaims{}, true, false
	}

	return claims, true, true
}

func (g *RouteGuard) loginPathForRole(role Role) string {
	for _, area := range g.areas {
		if area.Role == role {
			return area.LoginPath
		}
	}
	return "/"
}

func isLoginPath(area RoleArea, path string) bool {
	return path == area.LoginPath || strings.HasPrefix(path, area.LoginPath+"/")
}
