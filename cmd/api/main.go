package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/shoplane/accounts/internal/handlers"
	"github.com/shoplane/accounts/internal/mailer"
	"github.com/shoplane/accounts/internal/repository"
	"github.com/shoplane/accounts/internal/service"
	"github.com/shoplane/accounts/pkg/config"
	"github.com/shoplane/accounts/pkg/database"
	"github.com/shoplane/accounts/pkg/events"
	"github.com/shoplane/accounts/pkg/logger"
	mw "github.com/shoplane/accounts/pkg/middleware"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	userRepo := repository.NewUserRepository(pool)
	codeRepo := repository.NewCodeRepository(pool)
	rateLimitRepo := repository.NewRateLimitRepository(rdb)

	mailService := buildMailer(cfg)

	authService := service.NewAuthService(userRepo, codeRepo, mailService, eventBus, cfg)
	accountService := service.NewAccountService(userRepo)

	h := handlers.New(authService, accountService, rateLimitRepo, cfg)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("accounts"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.RateLimit(10, time.Minute))
			r.Post("/auth/register", h.Register)
			r.Post("/auth/login", h.Login)
			r.Post("/auth/verify-email", h.VerifyEmail)
			r.Post("/auth/resend-verification", h.ResendVerification)
			r.Post("/auth/forgot-password", h.ForgotPassword)
			r.Post("/auth/reset-password", h.ResetPassword)
		})
		r.Post("/auth/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)
			r.Get("/me", h.Me)
			r.Patch("/me", h.UpdateProfile)
			r.Patch("/me/preferences", h.UpdatePreferences)
			r.Post("/me/password", h.ChangePassword)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.RequireRole("admin"))
				r.Get("/users", h.ListUsers)
				r.Get("/users/{id}", h.GetUser)
				r.Patch("/users/{id}/role", h.UpdateUserRole)
			})
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting accounts service", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Expired one-time codes are unusable either way; the sweep just bounds
	// table growth.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.App.CodeSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				deleted, err := codeRepo.DeleteExpired(ctx)
				if err != nil {
					logger.Warn("Expired code sweep failed", "error", err)
					continue
				}
				if deleted > 0 {
					logger.Debug("Swept expired codes", "deleted", deleted)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down accounts service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Accounts service error", "error", err)
		os.Exit(1)
	}
}

func buildMailer(cfg *config.Config) mailer.Service {
	switch {
	case cfg.Email.DevMode:
		return mailer.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		return mailer.NewMailerSend(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.SMTPFrom)
	default:
		return mailer.NewSMTPMailer(
			cfg.Email.SMTPHost, cfg.Email.SMTPPort,
			cfg.Email.SMTPFrom, cfg.Email.SMTPUser, cfg.Email.SMTPPass,
			cfg.Email.SMTPUseTLS,
		)
	}
}
