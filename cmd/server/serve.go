package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sheetviz/backend/internal/api"
	"github.com/sheetviz/backend/internal/auth"
	"github.com/sheetviz/backend/internal/config"
	"github.com/sheetviz/backend/internal/models"
	"github.com/sheetviz/backend/internal/parser"
	"github.com/sheetviz/backend/internal/storage"
	"github.com/sheetviz/backend/internal/store"
	"github.com/sheetviz/backend/internal/upload"
	"github.com/sheetviz/backend/internal/web"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var devUser string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), devUser)
		},
	}
	cmd.Flags().StringVar(&devUser, "dev-user", "", "Create an account with this email at startup and print its token")
	return cmd
}

func serve(ctx context.Context, devUser string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireSecret(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	records, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer records.Close()

	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	janitor, err := storage.NewJanitor(fileStore, cfg.Storage.JanitorSchedule, cfg.Storage.TempMaxAge)
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	if devUser != "" {
		if err := seedUser(ctx, os.Stdout, records, tokens, devUser); err != nil {
			return err
		}
	}

	exec := upload.NewExecutor(cfg.Upload.Workers, cfg.Upload.QueueDepth)
	uploadMgr := upload.NewManager(records, fileStore, parser.NewDecoder(), exec, upload.Config{
		MaxUploadBytes: cfg.Upload.MaxBytes,
		AllowedTypes:   cfg.Upload.AllowedTypes,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareConfig{
		AllowOrigins:   cfg.Server.AllowOrigins,
		BodyLimit:      cfg.RequestBodyLimit(),
		RequestLogging: cfg.Server.RequestLogging,
		Gzip:           cfg.Server.Gzip,
		ShowDetails:    cfg.Server.ShowErrorDetails,
	})

	deps := &api.Dependencies{
		Uploader:    uploadMgr,
		Records:     records,
		Ready:       records.Ready,
		Stats:       uploadMgr.Stats,
		Auth:        auth.Middleware(tokens, records),
		UploadField: cfg.Upload.FieldName,
		Version:     Version,
	}
	api.RegisterRoutes(e, api.NewHandlers(deps), deps)

	mode := "API only"
	if cfg.Server.StaticDir != "" {
		staticFS, err := web.DirFS(cfg.Server.StaticDir)
		if err != nil {
			slog.Warn("frontend not served", "dir", cfg.Server.StaticDir, "err", err)
		} else {
			web.RegisterStaticRoutes(e, staticFS)
			mode = "API + frontend"
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	printBanner(cfg, mode)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.StartServer(s)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
	if err := uploadMgr.Shutdown(shutdownCtx); err != nil {
		slog.Error("decode workers did not drain", "err", err)
	}
	return nil
}

// seedUser creates a development account and prints a token for it. An
// existing account with the same email is reported and left alone.
func seedUser(ctx context.Context, w io.Writer, users store.UserStore, tokens *auth.Tokens, email string) error {
	id, err := users.CreateUser(ctx, &models.User{Username: email, Email: email})
	if errors.Is(err, store.ErrConflict) {
		slog.Warn("dev user already exists", "email", email)
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating dev user: %w", err)
	}
	tok, err := tokens.Issue(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Dev user %s (%s)\nToken: %s\n", email, id, tok)
	return nil
}

// loadConfig reads the config and installs the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.SetDefault(cfg.NewLogger(os.Stderr))
	return cfg, nil
}

// openStore opens the configured record store. SQL stores start their
// reconnect monitor before returning.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	db := cfg.Database
	if db.Driver == "memory" {
		slog.Warn("using in-memory record store; records are lost on restart")
		return store.NewMemoryStore(), nil
	}

	conn, err := store.Open(ctx, store.ConnConfig{
		Driver:            db.Driver,
		URL:               db.URL,
		MaxOpenConns:      db.MaxOpenConns,
		MaxIdleConns:      db.MaxIdleConns,
		ConnectTimeout:    db.ConnectTimeout,
		HealthInterval:    db.HealthInterval,
		BackoffMin:        db.BackoffMin,
		BackoffMax:        db.BackoffMax,
		DuckDBThreads:     db.DuckDBThreads,
		DuckDBMemoryLimit: db.DuckDBMemoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	t := db.Timeouts
	s, err := store.NewSQLStore(ctx, conn, store.Timeouts{
		Create:   t.Create,
		Status:   t.Status,
		List:     t.List,
		Data:     t.Data,
		Finalize: t.Finalize,
		Delete:   t.Delete,
		User:     t.User,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize record store: %w", err)
	}
	conn.Start()
	return s, nil
}

func printBanner(cfg *config.Config, mode string) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Sheetviz Server                                 ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", mode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Database:  %-46s║\n", cfg.Database.Driver)
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.Storage.DataDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
