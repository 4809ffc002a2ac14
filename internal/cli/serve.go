package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/attendance"
	attendancerepo "github.com/ovaphlow/pitchfork/service-ems-go/internal/attendance/repo"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-ems-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-ems-go/pkg/database"
)

func newServeCmd(rt *runtime) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), rt, cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before serving")
	return cmd
}

// openStore returns the configured session backend and its release func.
func openStore(ctx context.Context, cfg *config.Config, db *sqlx.DB, clock clockwork.Clock) (session.Store, func(), error) {
	switch cfg.SessionStore {
	case config.StoreRedis:
		rs, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, errors.Wrap(err, "ping redis")
		}
		return rs, func() { _ = rs.Close() }, nil
	case config.StorePostgres:
		return session.NewPostgresStore(db), func() {}, nil
	default:
		return session.NewMemoryStore(clock), func() {}, nil
	}
}

// purgeExpiredSessions drops rows the Postgres store left behind while the
// service was down. Other backends expire entries on their own.
func purgeExpiredSessions(ctx context.Context, store session.Store, sugar *zap.SugaredLogger) {
	ps, ok := store.(*session.PostgresStore)
	if !ok {
		return
	}
	n, err := ps.PurgeExpired(ctx)
	if err != nil {
		sugar.Warnf("purge expired sessions failed: %v", err)
		return
	}
	sugar.Debugw("purged expired sessions", "count", n)
}

// buildHandler wires services and handlers for cfg.
func buildHandler(cfg *config.Config, db *sqlx.DB, store session.Store, clock clockwork.Clock, sugar *zap.SugaredLogger) http.Handler {
	sessions := session.NewManager(store, clock, sugar, session.Options{
		Timeout:      cfg.SessionTimeout,
		Retain:       max(cfg.SessionTimeout, cfg.LockoutWindow),
		CookieName:   cfg.SessionCookieName,
		CookieSecure: cfg.SessionCookieSecure,
	})
	throttle := security.NewThrottle(sessions, security.ThrottleOptions{
		Enabled:     cfg.LoginThrottleEnabled,
		MaxAttempts: cfg.MaxLoginAttempts,
		Window:      cfg.LockoutWindow,
	})
	csrf := security.NewCSRF(sessions, sugar)
	auth := user.NewAuthService(userrepo.NewUserRepo(db), user.BcryptHasher{Cost: cfg.BcryptCost}, sessions, throttle, sugar)
	att := attendance.NewService(attendancerepo.NewAttendanceRepo(db), clock, time.Local, sugar)

	return router.RegisterRoutes(router.Deps{
		Logger:       sugar,
		Sessions:     sessions,
		CSRF:         csrf,
		Users:        user.NewHandler(auth, sessions, csrf, sugar),
		Attendance:   attendance.NewHandler(att, sugar),
		LoginLimiter: router.NewIPLimiter(cfg.LoginRatePerMinute, cfg.LoginRateBurst, clock, sugar),
		Upload:       security.UploadPolicy{MaxSize: cfg.MaxUploadSize, AllowedTypes: cfg.AllowedUploadTypes},
	})
}

func serve(parent context.Context, rt *runtime, cfg *config.Config, migrate bool) error {
	sugar := rt.sugar
	sugar.Info("starting service-ems-go")

	db, err := rt.db()
	if err != nil {
		return err
	}
	defer db.Close()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrate {
		if err := database.Migrate(ctx, db.DB); err != nil {
			return err
		}
		sugar.Info("migrations applied")
	}

	clock := clockwork.NewRealClock()
	store, release, err := openStore(ctx, cfg, db, clock)
	if err != nil {
		return err
	}
	defer release()
	purgeExpiredSessions(ctx, store, sugar)
	sugar.Infow("session store ready", "kind", cfg.SessionStore, "timeout", cfg.SessionTimeout)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           buildHandler(cfg, db, store, clock, sugar),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", cfg.HTTPAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "http server failed")
		}
	}

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	sugar.Info("goodbye")
	return nil
}
