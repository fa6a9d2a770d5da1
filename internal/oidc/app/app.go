package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/wintermoot/forumoidc/internal/oidc/http"
	"github.com/wintermoot/forumoidc/internal/oidc/identity"
	"github.com/wintermoot/forumoidc/internal/oidc/service"
	"github.com/wintermoot/forumoidc/internal/oidc/store"
	"github.com/wintermoot/forumoidc/internal/oidc/store/drivers/sqlite"
	"github.com/wintermoot/forumoidc/internal/oidc/store/memory"
	"github.com/wintermoot/forumoidc/pkg/cryptox"
	"github.com/wintermoot/forumoidc/pkg/jwtx"
	"github.com/wintermoot/forumoidc/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application holds the provider with all its dependencies wired up.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db      store.Store
	forumDB *sql.DB
	clients *memory.ClientRegistry
	scopes  *memory.ScopeRegistry
	users   identity.Provider
	signer  *jwtx.RS256Signer
	codec   *cryptox.Codec

	authorizeService    *service.AuthorizeService
	tokenService        *service.TokenService
	revocationService   *service.RevocationService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "forum-oidc",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initRegistries(); err != nil {
		return nil, err
	}
	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initIdentity(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initCrypto(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("oidc provider starting",
		"port", app.cfg.Port,
		"issuer", app.cfg.Issuer,
		"version", BuildVersion,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully stops the server, housekeeping, and database.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down oidc provider...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if app.forumDB != nil {
		if err := app.forumDB.Close(); err != nil {
			app.logger.Error("error closing forum database", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("oidc provider stopped")
	return nil
}

// initRegistries loads the client and scope registries from YAML.
func (app *Application) initRegistries() error {
	clients, err := memory.LoadClientRegistry(app.cfg.ClientsFile)
	if err != nil {
		return fmt.Errorf("load client registry: %w", err)
	}
	app.clients = clients

	scopes, err := memory.LoadScopeRegistry(app.cfg.ScopesFile)
	if err != nil {
		return fmt.Errorf("load scope registry: %w", err)
	}
	app.scopes = scopes

	app.logger.Info("registries loaded", "clients_file", app.cfg.ClientsFile, "scopes_file", app.cfg.ScopesFile)
	return nil
}

// initDatabase opens the token store and applies migrations.
func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initIdentity wires the user account source per the configured mode.
func (app *Application) initIdentity() error {
	switch app.cfg.IdentityMode {
	case "sql":
		forumDB, err := sql.Open("sqlite", app.cfg.ForumDatabase)
		if err != nil {
			return fmt.Errorf("open forum database: %w", err)
		}
		if err := forumDB.Ping(); err != nil {
			_ = forumDB.Close()
			return fmt.Errorf("ping forum database: %w", err)
		}
		app.forumDB = forumDB
		app.users = identity.NewSQLProvider(forumDB, app.cfg.ForumTablePrefix, app.cfg.ForumURL)
		app.logger.Info("identity provider ready", "mode", "sql", "table_prefix", app.cfg.ForumTablePrefix)

	case "static":
		users, err := identity.LoadStaticProvider(app.cfg.UsersFile)
		if err != nil {
			return fmt.Errorf("load static identity provider: %w", err)
		}
		app.users = users
		app.logger.Info("identity provider ready", "mode", "static", "users_file", app.cfg.UsersFile)

	default:
		return fmt.Errorf("unknown identity mode %q", app.cfg.IdentityMode)
	}

	return nil
}

// initCrypto loads the token signing key and the authorization code sealer.
func (app *Application) initCrypto() error {
	signer, err := jwtx.LoadRS256Signer(app.cfg.SigningKeyFile)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	app.signer = signer
	app.logger.Info("signing key loaded", "kid", signer.KeyID())

	codec, err := cryptox.NewCodec(app.cfg.CodeKey)
	if err != nil {
		return fmt.Errorf("initialize code codec: %w", err)
	}
	app.codec = codec

	return nil
}

func (app *Application) initServices() {
	app.authorizeService = &service.AuthorizeService{
		Clients:  app.clients,
		Scopes:   app.scopes,
		Store:    app.db,
		Identity: app.users,
		Codec:    app.codec,
		CodeTTL:  app.cfg.CodeTTL,
	}

	app.tokenService = &service.TokenService{
		Clients:    app.clients,
		Store:      app.db,
		Identity:   app.users,
		Codec:      app.codec,
		Signer:     app.signer,
		Issuer:     app.cfg.Issuer,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
		IDTokenTTL: app.cfg.IDTokenTTL,
	}

	app.revocationService = &service.RevocationService{
		Clients: app.clients,
		Store:   app.db,
		Signer:  app.signer,
		Issuer:  app.cfg.Issuer,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		jwtx.NewKeySet(app.signer),
		app.cfg.Issuer,
		app.cfg.GatewaySecret,
		app.db,
		app.scopes,
		app.logger,
	)

	router.AuthorizeService = app.authorizeService
	router.TokenService = app.tokenService
	router.RevocationService = app.revocationService
	router.DiscoveryMeta = httpapi.DiscoveryMeta{
		ServiceDocumentation: app.cfg.DocsURL,
		PolicyURI:            app.cfg.PolicyURL,
		TosURI:               app.cfg.TosURL,
	}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
