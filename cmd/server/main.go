package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tariel-x/tutorlive/internal/config"
	"github.com/tariel-x/tutorlive/internal/conversation"
	"github.com/tariel-x/tutorlive/internal/database"
	"github.com/tariel-x/tutorlive/internal/handlers"
	"github.com/tariel-x/tutorlive/internal/presence"
	"github.com/tariel-x/tutorlive/internal/push"
	"github.com/tariel-x/tutorlive/internal/turn"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/acme/autocert"
)

const AppVersion = "1.0.0"

func main() {
	httpOnly := flag.Bool("http-only", false, "Run in backend-only mode (disable SSL/LE, use HTTP)")
	flag.Parse()

	cfg := config.Load(httpOnly)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	logger.Info(fmt.Sprintf("TutorLive Server v%s", AppVersion))

	if cfg.HTTPOnly && cfg.FrontendURI == "" {
		logger.Error("FRONTEND_URI is required when --http-only is specified")
		return
	}

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		return
	}

	turnServer, err := turn.Initialize(cfg.TURNPort, cfg.TURNRealm, cfg.TURNCredentialTTL, logger)
	if err != nil {
		logger.Error("failed to initialize TURN server", "error", err)
		return
	}
	defer turnServer.Close()
	logger.Info(fmt.Sprintf("TURN server started at port %d", cfg.TURNPort))

	calls := handlers.NewCallStore(cfg.CallTTL)
	defer calls.Close()

	h := handlers.New(
		cfg,
		conversation.NewStore(db),
		push.NewNotifier(db, cfg.VAPIDKeys),
		turnServer,
		presence.NewRegistry(),
		calls,
		handlers.NewWSHub(),
		websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	)

	router := setupRouter(h, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	startServer(ctx, router, cfg, logger)
}

func setupRouter(h *handlers.Handlers, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), slogGinLogger(logger))

	router.Use(func(c *gin.Context) {
		// In http-only mode the frontend is served elsewhere.
		origin := "*"
		if cfg.HTTPOnly && cfg.FrontendURI != "" {
			origin = cfg.FrontendURI
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	router.GET("/metrics", gin.WrapH(h.MetricsHandler()))
	h.RegisterRoutes(router.Group("/api"))

	return router
}

func startServer(ctx context.Context, router *gin.Engine, cfg *config.Config, logger *slog.Logger) {
	errorLog := log.New(newTLSErrorWriter(logger), "", 0)

	if cfg.HTTPOnly {
		httpServer := newHTTPServer(":"+cfg.HTTPPort, router, errorLog)
		logger.Info("Starting HTTP server", "port", cfg.HTTPPort, "frontend_uri", cfg.FrontendURI)
		serve(ctx, logger, httpServer, httpServer.ListenAndServe)
		return
	}

	certsDir := getCertsDirectory()
	if err := os.MkdirAll(certsDir, 0700); err != nil {
		logger.Error("Failed to create certs directory", "error", err)
		return
	}

	normalizedDomain := normalizeDomain(cfg.Domain)
	logger.Info("Configured domain", "domain", cfg.Domain, "normalized", normalizedDomain)
	if normalizedDomain == "localhost" || normalizedDomain == "127.0.0.1" {
		logger.Warn("Let's Encrypt will not work for localhost. Use --http-only for local development.")
	}

	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		HostPolicy: func(ctx context.Context, host string) error {
			if normalizeDomain(host) != normalizedDomain {
				// Not logged: bots and scanners hit this constantly.
				return fmt.Errorf("host %q not configured (expected %q)", host, normalizedDomain)
			}
			return nil
		},
		Cache: autocert.DirCache(certsDir),
	}

	// Port 80 answers ACME challenges and redirects everything else.
	httpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/.well-known/acme-challenge/") {
			m.HTTPHandler(nil).ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
	})
	httpServer := newHTTPServer(":"+cfg.HTTPPort, httpHandler, errorLog)
	go func() {
		logger.Info("HTTP server (ACME challenge & redirects) starting", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start HTTP server", "error", err)
			os.Exit(1)
		}
	}()

	httpsServer := newHTTPServer(":"+cfg.HTTPSPort, router, errorLog)
	httpsServer.TLSConfig = m.TLSConfig()
	logger.Info("HTTPS server starting", "port", cfg.HTTPSPort, "domain", normalizedDomain, "certs_dir", certsDir)
	serve(ctx, logger, httpsServer, func() error {
		return httpsServer.ListenAndServeTLS("", "")
	})
	_ = httpServer.Close()
}

// newHTTPServer leaves WriteTimeout unset: websocket connections are long-lived.
func newHTTPServer(addr string, handler http.Handler, errorLog *log.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          errorLog,
	}
}

func serve(ctx context.Context, logger *slog.Logger, server *http.Server, listen func() error) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- listen()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped", "addr", server.Addr, "error", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down", "addr", server.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown failed", "error", err)
		}
	}
}

func getCertsDirectory() string {
	execPath, err := os.Executable()
	if err != nil {
		return "certs"
	}
	return filepath.Join(filepath.Dir(execPath), "certs")
}

// normalizeDomain lowercases and strips a leading "www.".
func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}
