package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"condogate/internal/account"
	"condogate/internal/auth"
	"condogate/internal/db"
	"condogate/internal/directory"
	"condogate/internal/maintenance"
	"condogate/internal/notify"
	"condogate/internal/observability"
)

// devFallbackSecret keys sessions when SESSION_SECRET is unset outside
// production. Production startup refuses to run without a real secret.
const devFallbackSecret = "condogate-development-only-secret-do-not-deploy"

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()
	appEnv := envOrDefault("APP_ENV", "development")

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}

	secret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if secret == "" {
		if appEnv == "production" {
			return nil, fmt.Errorf("SESSION_SECRET is required in production")
		}
		secret = devFallbackSecret
		logger.Warn("session_secret_fallback", map[string]any{
			"env": appEnv,
		})
	}
	codec, err := auth.NewTokenCodec(secret)
	if err != nil {
		return nil, fmt.Errorf("init token codec: %w", err)
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), appEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	var sender auth.CodeSender
	if mailAPIURL := strings.TrimSpace(os.Getenv("MAIL_API_URL")); mailAPIURL != "" {
		mailer, err := notify.NewMailer(mailAPIURL, os.Getenv("MAIL_API_KEY"), os.Getenv("MAIL_FROM"))
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init mailer: %w", err)
		}
		sender = mailer
	} else {
		if appEnv == "production" {
			_ = database.Close()
			return nil, fmt.Errorf("MAIL_API_URL is required in production")
		}
		sender = notify.NewLogSender(logger)
	}

	challengeTTL := envMinutesOrDefault("CHALLENGE_TTL_MINUTES", 10)

	authRepo := auth.NewRepository(database)
	verifier := auth.NewCredentialVerifier(authRepo)
	challenger := auth.NewTwoFactorChallenger(authRepo, sender, challengeTTL)
	integrity := auth.NewSessionIntegrityChecker(authRepo)

	flow := auth.NewLoginFlow(verifier, challenger, authRepo, authRepo, codec)
	flow.WithSecurityConfig(
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
		envHoursOrDefault("SESSION_TTL_HOURS", 12),
		challengeTTL,
	)

	areas := []auth.RoleArea{
		{Role: auth.RoleAdmin, PathPrefix: "/admin", LoginPath: "/admin/login", HomePath: "/admin"},
		{Role: auth.RoleResident, PathPrefix: "/resident", LoginPath: "/resident/login", HomePath: "/resident"},
		{Role: auth.RoleGatekeeper, PathPrefix: "/gate", LoginPath: "/gate/login", HomePath: "/gate"},
	}
	guard := auth.NewRouteGuard(codec, integrity, areas)

	loginLimiter := auth.NewLoginRateLimiter(
		authRepo,
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	accountRepo := account.NewRepository(database)
	if err := accountRepo.BootstrapAdmin(context.Background(), os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	accountHandler := account.NewHandler(accountRepo)

	directoryRepo := directory.NewRepository(database)
	directoryHandler := directory.NewHandler(directoryRepo)

	cleanupHandler := maintenance.NewCleanupHandler(
		authRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envHoursOrDefault("AUTH_CHALLENGE_RETENTION_HOURS", 24),
		envDaysOrDefault("AUTH_LOGIN_ATTEMPT_RETENTION_DAYS", 30),
		envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	)

	handler := buildHandler(database, logger, flow, guard, areas, loginLimiter, accountHandler, directoryHandler, cleanupHandler)

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

// buildHandler assembles the route table and middleware chain. Every route
// under /admin except the login entry points goes through RequireFresh: admin
// actions are privilege sensitive, so the session is revalidated against
// storage, not just the signature.
func buildHandler(
	database *sql.DB,
	logger *observability.Logger,
	flow *auth.LoginFlow,
	guard *auth.RouteGuard,
	areas []auth.RoleArea,
	loginLimiter *auth.LoginRateLimiter,
	accountHandler *account.Handler,
	directoryHandler *directory.Handler,
	cleanupHandler *maintenance.CleanupHandler,
) http.Handler {
	mux := http.NewServeMux()

	for _, area := range areas {
		h := auth.NewHandler(flow, area, logger)
		mux.HandleFunc("GET "+area.LoginPath, h.ShowLogin)
		mux.Handle("POST "+area.LoginPath, loginLimiter.Middleware(http.HandlerFunc(h.SubmitCredentials)))
		mux.HandleFunc("GET "+area.LoginPath+"/password", h.ShowPasswordSetup)
		mux.HandleFunc("POST "+area.LoginPath+"/password", h.SubmitPassword)
		mux.HandleFunc("GET "+area.LoginPath+"/code", h.ShowCode)
		mux.Handle("POST "+area.LoginPath+"/code", loginLimiter.Middleware(http.HandlerFunc(h.SubmitCode)))
		mux.HandleFunc("POST "+area.PathPrefix+"/logout", h.Logout)

		if area.Role == auth.RoleAdmin {
			mux.Handle("GET "+area.HomePath, guard.RequireFresh(http.HandlerFunc(h.Home)))
		} else {
			mux.HandleFunc("GET "+area.HomePath, h.Home)
		}
	}

	mux.Handle("GET /admin/api/accounts", guard.RequireFresh(http.HandlerFunc(accountHandler.List)))
	mux.Handle("POST /admin/api/accounts", guard.RequireFresh(http.HandlerFunc(accountHandler.Create)))
	mux.Handle("DELETE /admin/api/accounts/{id}", guard.RequireFresh(http.HandlerFunc(accountHandler.Delete)))

	mux.Handle("GET /admin/api/units", guard.RequireFresh(http.HandlerFunc(directoryHandler.ListUnits)))
	mux.Handle("POST /admin/api/units", guard.RequireFresh(http.HandlerFunc(directoryHandler.CreateUnit)))
	mux.Handle("PUT /admin/api/units/{id}", guard.RequireFresh(http.HandlerFunc(directoryHandler.UpdateUnit)))
	mux.Handle("DELETE /admin/api/units/{id}", guard.RequireFresh(http.HandlerFunc(directoryHandler.DeleteUnit)))

	mux.HandleFunc("GET /resident/api/unit", directoryHandler.MyUnit)
	mux.HandleFunc("GET /gate/api/residents", directoryHandler.Residents)

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	return observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, guard.Middleware(mux)))
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
