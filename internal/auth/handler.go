package auth

import (
	"errors"
	"html/template"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"condogate/internal/observability"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 200
	maxEmailLength    = 254
)

const (
	msgInvalidCredentials = "invalid email or password"
	msgLoginLocked        = "too many failed attempts, try again later"
	msgCodeExpired        = "the code has expired, sign in again to request a new one"
	msgCodeMismatch       = "invalid code"
	msgInternalError      = "something went wrong, try again"
)

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head><body>
<h1>{{.Title}}</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="post" action="{{.Action}}">
<label>Email <input type="email" name="email" value="{{.Email}}" maxlength="254" required></label>
<label>Password <input type="password" name="password" maxlength="200"></label>
<button type="submit">Sign in</button>
</form>
</body></html>`))

var passwordSetupPage = template.Must(template.New("password").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head><body>
<h1>{{.Title}}</h1>
<p>This is your first login. Choose a password to continue.</p>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="post" action="{{.Action}}">
<label>New password <input type="password" name="new_password" minlength="8" maxlength="200" required></label>
<label>Confirm password <input type="password" name="confirm_password" minlength="8" maxlength="200" required></label>
<button type="submit">Set password</button>
</form>
</body></html>`))

var codePage = template.Must(template.New("code").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head><body>
<h1>{{.Title}}</h1>
<p>We sent a verification code to your email address.</p>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="post" action="{{.Action}}">
<label>Code <input type="text" name="code" inputmode="numeric" maxlength="6" required></label>
<button type="submit">Verify</button>
</form>
</body></html>`))

var homePage = template.Must(template.New("home").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head><body>
<h1>{{.Title}}</h1>
<p>Signed in as {{.Name}} ({{.Role}}).</p>
<form method="post" action="{{.LogoutAction}}"><button type="submit">Sign out</button></form>
</body></html>`))

type formData struct {
	Title  string
	Action string
	Email  string
	Error  string
}

// Handler serves one role area's login entry points. Failures re-render the
// form with a generic message; successes redirect.
type Handler struct {
	flow   *LoginFlow
	area   RoleArea
	logger *observability.Logger
}

func NewHandler(flow *LoginFlow, area RoleArea, logger *observability.Logger) *Handler {
	return &Handler{flow: flow, area: area, logger: logger}
}

func (h *Handler) ShowLogin(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, http.StatusOK, "", "")
}

func (h *Handler) SubmitCredentials(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, http.StatusBadRequest, "", msgInvalidCredentials)
		return
	}

	email := NormalizeEmail(r.FormValue("email"))
	password := r.FormValue("password")

	if email == "" || len(email) > maxEmailLength || len(password) > maxPasswordLength {
		h.renderLogin(w, http.StatusOK, email, msgInvalidCredentials)
		return
	}
	// ParseAddress also accepts display-name forms; only a bare address is a
	// valid login identifier.
	if parsed, err := mail.ParseAddress(email); err != nil || parsed.Address != email {
		h.renderLogin(w, http.StatusOK, email, msgInvalidCredentials)
		return
	}

	result, err := h.flow.SubmitCredentials(r.Context(), email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.renderLogin(w, http.StatusOK, email, msgInvalidCredentials)
			return
		}
		var locked ErrLoginLocked
		if errors.As(err, &locked) {
			retryAfter := int(time.Until(locked.Until).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.renderLogin(w, http.StatusTooManyRequests, email, msgLoginLocked)
			return
		}

		sentry.CaptureException(err)
		h.logger.Error("login_credentials_failed", map[string]any{"error": err.Error()})
		h.renderLogin(w, http.StatusInternalServerError, email, msgInternalError)
		return
	}

	h.applyResult(w, r, result)
}

func (h *Handler) ShowPasswordSetup(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.pendingStage(r, StageFirstLogin); !ok {
		http.Redirect(w, r, h.area.LoginPath, http.StatusSeeOther)
		return
	}
	h.renderPasswordSetup(w, http.StatusOK, "")
}

func (h *Handler) SubmitPassword(w http.ResponseWriter, r *http.Request) {
	stageToken, ok := h.pendingStage(r, StageFirstLogin)
	if !ok {
		clearLoginStageCookie(w, r)
		http.Redirect(w, r, h.area.LoginPath, http.StatusSeeOther)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderPasswordSetup(w, http.StatusBadRequest, msgInternalError)
		return
	}

	newPassword := r.FormValue("new_password")
	confirm := r.FormValue("confirm_password")

	if len(newPassword) < minPasswordLength || len(newPassword) > maxPasswordLength {
		h.renderPasswordSetup(w, http.StatusOK, "password must be between 8 and 200 characters")
		return
	}
	if newPassword != confirm {
		h.renderPasswordSetup(w, http.StatusOK, "passwords do not match")
		return
	}

	result, err := h.flow.SetInitialPassword(r.Context(), stageToken, newPassword)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			clearLoginStageCookie(w, r)
			http.Redirect(w, r, h.area.LoginPath, http.StatusSeeOther)
			return
		}

		sentry.CaptureException(err)
		h.logger.Error("login_password_setup_failed", map[string]any{"error": err.Error()})
		h.renderPasswordSetup(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	h.applyResult(w, r, result)
}

func (h *Handler) ShowCode(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.pendingStage(r, StageTwoFactor); !ok {
		http.Redirect(w, r, h.area.LoginPath, http.StatusSeeOther)
		return
	}
	h.renderCode(w, http.StatusOK, "")
}

func (h *Handler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	stageToken, ok := h.pendingStage(r, StageTwoFactor)
	if !ok {
		clearLoginStageCookie(w, r)
		http.Redirect(w, r, h.area.LoginPath, http.StatusSeeOther)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderCode(w, http.StatusBadRequest, msgCodeMismatch)
		return
	}

	result, err := h.flow.SubmitCode(r.Context(), stageToken, r.FormValue("code"))
	if err != nil {
		switch {
		case errors.Is(err, ErrChallengeExpired):
			h.renderCode(w, http.StatusOK, msgCodeExpired)
		case errors.Is(err, ErrChallengeMismatch):
			h.renderCode(w, http.StatusOK, msgCodeMismatch)
		case errors.Is(err, ErrTokenInvalid):
			clearLoginStageCookie(w, r)
			http.Redirect(w, r, h.area.LoginPath, http.StatusSeeOther)
		default:
			sentry.CaptureException(err)
			h.logger.Error("login_code_failed", map[string]any{"error": err.Error()})
			h.renderCode(w, http.StatusInternalServerError, msgInternalError)
		}
		return
	}

	h.applyResult(w, r, result)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w, r)
	clearLoginStageCookie(w, r)
	http.Redirect(w, r, h.area.LoginPath, http.StatusSeeOther)
}

func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	claims, ok := SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, h.area.LoginPath, http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = homePage.Execute(w, map[string]string{
		"Title":        h.title(),
		"Name":         claims.Name,
		"Role":         string(claims.Role),
		"LogoutAction": h.area.PathPrefix + "/logout",
	})
}

func (h *Handler) applyResult(w http.ResponseWriter, r *http.Request, result FlowResult) {
	switch result.Stage {
	case StageFirstLogin:
		setLoginStageCookie(w, r, result.StageToken, h.flow.stageTTL)
		http.Redirect(w, r, h.area.LoginPath+"/password", http.StatusSeeOther)

	case StageTwoFactor:
		setLoginStageCookie(w, r, result.StageToken, h.flow.stageTTL)
		http.Redirect(w, r, h.area.LoginPath+"/code", http.StatusSeeOther)

	case StageIssued:
		clearLoginStageCookie(w, r)
		setSessionCookie(w, r, result.SessionToken, result.SessionExpires)
		http.Redirect(w, r, h.area.HomePath, http.StatusSeeOther)

	default:
		http.Redirect(w, r, h.area.LoginPath, http.StatusSeeOther)
	}
}

// pendingStage reads and verifies the stage cookie; ok is false when the
// cookie is absent, invalid or at a different stage.
func (h *Handler) pendingStage(r *http.Request, want Stage) (string, bool) {
	cookie, err := r.Cookie(loginStageCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}

	stage, err := h.flow.codec.VerifyLoginStage(cookie.Value)
	if err != nil || stage.Stage != want {
		return "", false
	}

	return cookie.Value, true
}

func (h *Handler) renderLogin(w http.ResponseWriter, status int, email, message string) {
	h.render(w, status, loginPage, formData{
		Title:  h.title(),
		Action: h.area.LoginPath,
		Email:  email,
		Error:  message,
	})
}

func (h *Handler) renderPasswordSetup(w http.ResponseWriter, status int, message string) {
	h.render(w, status, passwordSetupPage, formData{
		Title:  h.title(),
		Action: h.area.LoginPath + "/password",
		Error:  message,
	})
}

func (h *Handler) renderCode(w http.ResponseWriter, status int, message string) {
	h.render(w, status, codePage, formData{
		Title:  h.title(),
		Action: h.area.LoginPath + "/code",
		Error:  message,
	})
}

func (h *Handler) render(w http.ResponseWriter, status int, page *template.Template, data formData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = page.Execute(w, data)
}

func (h *Handler) title() string {
	switch h.area.Role {
	case RoleAdmin:
		return "Administration"
	case RoleGatekeeper:
		return "Gate"
	default:
		return "Residents"
	}
}
