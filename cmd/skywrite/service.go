package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flosch/pongo2/v6"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"github.com/urfave/cli/v2"

	"github.com/skywrite-dev/skywrite/atapi"
	"github.com/skywrite-dev/skywrite/atoauth"
	"github.com/skywrite-dev/skywrite/auth"
	"github.com/skywrite-dev/skywrite/store"
	"github.com/skywrite-dev/skywrite/webauth"
)

type Server struct {
	echo  *echo.Echo
	httpd *http.Server

	coord  *auth.Coordinator
	binder *webauth.Binder
	authz  *webauth.Authorizer
	config atoauth.ClientConfig

	// returns an API client for the account's host, authorized with the
	// credential; a seam so handler tests don't need real tokens
	resumeAPI func(cred auth.Credential) (*atapi.APIClient, error)
}

func serve(cctx *cli.Context) error {
	debug := cctx.Bool("debug")
	bind := cctx.String("bind")
	hostname := cctx.String("hostname")

	if debug {
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		slog.SetDefault(slog.New(h))
	}

	scopes := []string{"atproto", "transition:generic"}
	var config atoauth.ClientConfig
	if hostname == "" {
		config = atoauth.NewLocalhostConfig(
			fmt.Sprintf("http://127.0.0.1%s/oauth/callback", bind),
			scopes,
		)
		slog.Info("configuring localhost OAuth client", "callbackURL", config.CallbackURL)
	} else {
		config = atoauth.NewPublicConfig(
			fmt.Sprintf("https://%s/oauth-client-metadata.json", hostname),
			fmt.Sprintf("https://%s/oauth/callback", hostname),
			scopes,
		)
	}

	if keyPEM := cctx.String("client-secret-key"); keyPEM != "" && hostname != "" {
		priv, err := atoauth.ParsePrivateKeyPEM([]byte(keyPEM))
		if err != nil {
			return fmt.Errorf("parsing client secret key: %w", err)
		}
		if err := config.SetClientSecret(priv, cctx.String("client-secret-key-id")); err != nil {
			return err
		}
		slog.Info("configuring confidential OAuth client", "keyID", cctx.String("client-secret-key-id"))
	}

	db, err := store.OpenDatabase(cctx.String("db-url"), 10)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	flows, err := store.NewDBStore(db, "auth_flows")
	if err != nil {
		return err
	}
	sessions, err := store.NewDBStore(db, "auth_sessions")
	if err != nil {
		return err
	}

	oauthClient := atoauth.NewClient(config)
	coord := auth.NewCoordinator(oauthClient, flows, sessions)

	binder, err := webauth.NewBinder([]byte(cctx.String("session-secret")), "skywrite-session")
	if err != nil {
		return err
	}

	srv := &Server{
		coord:  coord,
		binder: binder,
		authz:  webauth.NewAuthorizer(binder, coord),
		config: config,
		resumeAPI: func(cred auth.Credential) (*atapi.APIClient, error) {
			sess, err := oauthClient.ResumeAPISession(cred)
			if err != nil {
				return nil, err
			}
			return sess.APIClient(), nil
		},
	}
	srv.buildEcho(debug, prometheus.DefaultRegisterer)

	srv.httpd = &http.Server{
		Handler:        srv.echo,
		Addr:           bind,
		WriteTimeout:   time.Minute,
		ReadTimeout:    time.Minute,
		MaxHeaderBytes: 1024 * 1024,
	}

	if metricsBind := cctx.String("metrics-listen"); metricsBind != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsBind, mux); err != nil {
				slog.Error("metrics listener failed", "err", err)
			}
		}()
	}

	slog.Info("starting http server", "bind", bind)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		slog.Info("received OS exit signal", "signal", sig)
		if err := srv.Shutdown(); err != nil {
			slog.Error("HTTP server shutdown error", "err", err)
		}
		close(quit)
	}()
	<-quit
	slog.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) buildEcho(debug bool, reg prometheus.Registerer) {
	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(slog.Default()))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "skywrite",
		Registerer: reg,
	}))
	e.Use(middleware.BodyLimit("64K"))
	// SECURITY: Do not modify without due consideration.
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))
	e.Use(middleware.RemoveTrailingSlashWithConfig(middleware.TrailingSlashConfig{
		RedirectCode: http.StatusFound,
	}))
	e.Renderer = NewRenderer("templates/", &TemplateFS, debug)
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/", srv.Homepage)
	e.GET("/oauth-client-metadata.json", srv.ClientMetadata)
	e.GET("/.well-known/jwks.json", srv.JWKS)
	e.GET("/login", srv.LoginForm)
	e.POST("/login", srv.Login)
	e.GET("/oauth/callback", srv.Callback)
	e.POST("/logout", srv.Logout)
	e.GET("/post", srv.PostForm)
	e.POST("/post", srv.Post)
	e.POST("/refresh", srv.Refresh)

	e.GET("/_health", srv.HealthCheck)
	e.GET("/metrics", echoprometheus.NewHandler())

	srv.echo = e
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		msg = fmt.Sprintf("%v", he.Message)
	}
	if code >= 500 {
		slog.Warn("request failed", "err", err, "path", c.Request().URL.Path)
	}
	data := pongo2.Context{
		"statusCode": code,
		"message":    msg,
	}
	if err := c.Render(code, "error.html", data); err != nil {
		c.String(code, msg)
	}
}

func (srv *Server) Shutdown() error {
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func (srv *Server) HealthCheck(c echo.Context) error {
	return c.JSON(200, GenericStatus{Status: "ok", Daemon: "skywrite"})
}
