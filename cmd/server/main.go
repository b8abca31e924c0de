package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mprlab/gatekit/internal/directory"
	"github.com/mprlab/gatekit/internal/ledgerpg"
	"github.com/mprlab/gatekit/internal/sessionkit"
	"github.com/mprlab/gatekit/internal/webui"
	webassets "github.com/mprlab/gatekit/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (sessionkit.GoogleTokenValidator, error) {
	return sessionkit.NewGoogleTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "gatekit",
		Short:   "Session service with Google Sign-In verification, signed session cookies, and rotating refresh tokens",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("cookie_secret", "", "HS256 signing secret for session cookies")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("google_web_client_id", "", "Google Web OAuth Client ID")
	rootCmd.Flags().Duration("session_ttl", 30*time.Minute, "Session cookie TTL")
	rootCmd.Flags().Duration("refresh_ttl", 7*24*time.Hour, "Refresh cookie TTL")
	rootCmd.Flags().Duration("xsrf_ttl", time.Hour, "Anti-forgery token TTL")
	rootCmd.Flags().Duration("refresh_lead", 15*time.Minute, "How far before session expiry clients refresh")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("database_url", "", "Database URL for rotation state and the user directory (postgres:// or sqlite://; leave empty for in-memory)")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("cookie_secret", rootCmd.Flags().Lookup("cookie_secret"))
	_ = viper.BindPFlag("cookie_domain", rootCmd.Flags().Lookup("cookie_domain"))
	_ = viper.BindPFlag("google_web_client_id", rootCmd.Flags().Lookup("google_web_client_id"))
	_ = viper.BindPFlag("session_ttl", rootCmd.Flags().Lookup("session_ttl"))
	_ = viper.BindPFlag("refresh_ttl", rootCmd.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("xsrf_ttl", rootCmd.Flags().Lookup("xsrf_ttl"))
	_ = viper.BindPFlag("refresh_lead", rootCmd.Flags().Lookup("refresh_lead"))
	_ = viper.BindPFlag("dev_insecure_http", rootCmd.Flags().Lookup("dev_insecure_http"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingGoogleClientID   = "config.missing_google_web_client_id"
	configCodeMissingCookieSecret     = "config.missing_cookie_secret"
	configCodeInvalidCookieConfig     = "config.invalid_cookie_config"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit     = "config.google_validator_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (sessionkit.Config, error) {
	googleWebClientID := viper.GetString("google_web_client_id")
	if googleWebClientID == "" {
		return sessionkit.Config{}, configError(configCodeMissingGoogleClientID, "google_web_client_id must be provided")
	}

	cookieSecret := viper.GetString("cookie_secret")
	if cookieSecret == "" {
		return sessionkit.Config{}, configError(configCodeMissingCookieSecret, "cookie_secret must be provided")
	}

	configuration := sessionkit.Config{
		CookieSecret:      []byte(cookieSecret),
		Issuer:            "mprlab-gatekit",
		CookieDomain:      viper.GetString("cookie_domain"),
		SessionTTL:        viper.GetDuration("session_ttl"),
		RefreshTTL:        viper.GetDuration("refresh_ttl"),
		XSRFTTL:           viper.GetDuration("xsrf_ttl"),
		RefreshLead:       viper.GetDuration("refresh_lead"),
		AllowInsecureHTTP: viper.GetBool("dev_insecure_http"),
		GoogleWebClientID: googleWebClientID,
	}
	if validateErr := configuration.Validate(); validateErr != nil {
		return sessionkit.Config{}, fmt.Errorf("%s: %w", configCodeInvalidCookieConfig, validateErr)
	}
	return configuration, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(sessionkit.Config)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	databaseURL := viper.GetString("database_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	if enableCORS {
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := webui.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	pageTemplates, templateErr := template.ParseFS(webassets.Templates, "templates/*.html")
	if templateErr != nil {
		return fmt.Errorf("templates: %w", templateErr)
	}
	router.SetHTMLTemplate(pageTemplates)

	users, ledger, storeErr := buildStores(command.Context(), databaseURL, logger)
	if storeErr != nil {
		return storeErr
	}

	validator, validatorErr := buildGoogleTokenValidator(command.Context())
	if validatorErr != nil {
		return fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, validatorErr)
	}
	verifier := sessionkit.NewGoogleCredentialVerifier(validator, serverConfig.GoogleWebClientID, users)

	clock := sessionkit.NewSystemClock()
	metricsRecorder := sessionkit.NewCounterMetrics()
	service, serviceErr := sessionkit.NewService(serverConfig, verifier, sessionkit.ServiceOptions{
		Clock:      clock,
		Ledger:     ledger,
		Logger:     logger,
		Metrics:    metricsRecorder,
		Properties: directory.NewSessionHooks(users),
	})
	if serviceErr != nil {
		return serviceErr
	}
	xsrfGuard := sessionkit.NewXSRFGuard(service.Config(), clock)

	router.GET("/auth/client.js", func(contextGin *gin.Context) {
		webui.ServeEmbeddedStaticJS(contextGin, webassets.FS, "auth-client.js")
	})
	router.GET("/auth/config.js", func(contextGin *gin.Context) {
		webui.ServeClientConfig(contextGin, webui.ClientConfig{
			GoogleClientID:  serverConfig.GoogleWebClientID,
			LoginPath:       service.Config().LoginPath,
			RefreshLeadSecs: int64(service.Config().RefreshLead / time.Second),
		})
	})

	pageServer := webui.NewPageServer(service, xsrfGuard, users, logger)
	pageServer.MountRoutes(router)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

// buildStores selects the directory and rotation ledger backends from the
// database URL: postgres uses the pgx ledger, sqlite the gorm one, and the
// empty URL keeps everything in memory.
func buildStores(ctx context.Context, databaseURL string, logger *zap.Logger) (directory.Directory, sessionkit.RotationLedger, error) {
	if databaseURL == "" {
		logger.Info("using in-memory directory and rotation ledger")
		return directory.NewMemoryDirectory(), sessionkit.NewMemoryRotationLedger(), nil
	}

	users, directoryErr := directory.NewDatabaseDirectory(ctx, databaseURL)
	if directoryErr != nil {
		return nil, nil, directoryErr
	}

	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		pool, poolErr := ledgerpg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, nil, poolErr
		}
		if schemaErr := ledgerpg.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, nil, schemaErr
		}
		logger.Info("using persistent stores", zap.String("driver", "postgres"))
		return users, ledgerpg.NewPostgresRotationLedger(pool), nil
	}

	ledger, ledgerErr := sessionkit.NewDatabaseRotationLedger(ctx, databaseURL)
	if ledgerErr != nil {
		return nil, nil, ledgerErr
	}
	logger.Info("using persistent stores", zap.String("driver", ledger.Driver()))
	return users, ledger, nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
