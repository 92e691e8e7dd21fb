package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/pointswallet/internal/auth"
	"github.com/MarkoPoloResearchLab/pointswallet/internal/grpchealth"
	"github.com/MarkoPoloResearchLab/pointswallet/internal/httpapi"
	"github.com/MarkoPoloResearchLab/pointswallet/internal/metrics"
	"github.com/MarkoPoloResearchLab/pointswallet/internal/notify"
	"github.com/MarkoPoloResearchLab/pointswallet/internal/oplog"
	"github.com/MarkoPoloResearchLab/pointswallet/internal/scheduler"
	"github.com/MarkoPoloResearchLab/pointswallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	flagEnvFile           = "env-file"
	flagDatabaseURL       = "database-url"
	flagAutoMigrate       = "auto-migrate"
	flagHTTPListenAddr    = "http-listen-addr"
	flagGRPCListenAddr    = "grpc-listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagJWTSigningKey     = "jwt-signing-key"
	flagJWTIssuer         = "jwt-issuer"
	flagOperators         = "operators"
	flagSessionKey        = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookie     = "session-cookie"
	flagUnlockAt          = "unlock-at"
	flagExpireAt          = "expire-at"
	flagSweepPoll         = "sweep-poll-interval"
	flagSweepBatch        = "sweep-batch-size"
	flagOutboxSize        = "outbox-size"
	flagSQSQueueURL       = "sqs-queue-url"
	flagLogFile           = "log-file"
	flagTokenSubject      = "subject"
	flagTokenUnits        = "business-units"
	flagTokenTTL          = "ttl"
	flagSweepAsOf         = "as-of"
	defaultDatabaseURL    = "sqlite:///tmp/pointswallet.db"
	defaultHTTPListenAddr = ":8080"
	defaultGRPCListenAddr = ":7000"
	defaultJWTIssuer      = "pointswallet"
	defaultUnlockAt       = "00:05"
	defaultExpireAt       = "00:15"
	defaultOutboxSize     = 1024
	defaultTokenTTL       = 24 * time.Hour
)

// configBindings maps viper keys to their flag and environment variable.
var configBindings = []struct {
	key string
	env string
}{
	{key: flagDatabaseURL, env: "DATABASE_URL"},
	{key: flagAutoMigrate, env: "AUTO_MIGRATE"},
	{key: flagHTTPListenAddr, env: "HTTP_LISTEN_ADDR"},
	{key: flagGRPCListenAddr, env: "GRPC_LISTEN_ADDR"},
	{key: flagAllowedOrigins, env: "ALLOWED_ORIGINS"},
	{key: flagJWTSigningKey, env: "JWT_SIGNING_KEY"},
	{key: flagJWTIssuer, env: "JWT_ISSUER"},
	{key: flagOperators, env: "WALLET_OPERATORS"},
	{key: flagSessionKey, env: "SESSION_SIGNING_KEY"},
	{key: flagSessionIssuer, env: "SESSION_ISSUER"},
	{key: flagSessionCookie, env: "SESSION_COOKIE_NAME"},
	{key: flagUnlockAt, env: "UNLOCK_AT"},
	{key: flagExpireAt, env: "EXPIRE_AT"},
	{key: flagSweepPoll, env: "SWEEP_POLL_INTERVAL"},
	{key: flagSweepBatch, env: "SWEEP_BATCH_SIZE"},
	{key: flagOutboxSize, env: "OUTBOX_SIZE"},
	{key: flagSQSQueueURL, env: "SQS_QUEUE_URL"},
	{key: flagLogFile, env: "LOG_FILE"},
}

type runtimeConfig struct {
	DatabaseURL    string
	AutoMigrate    bool
	GRPCListenAddr string
	HTTP           httpapi.Config
	Auth           auth.Config
	UnlockAt       time.Duration
	ExpireAt       time.Duration
	SweepPoll      time.Duration
	SweepBatchSize int
	OutboxSize     int
	SQSQueueURL    string
	LogFile        oplog.FileConfig
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "walletd",
		Short:         "Points wallet ledger server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagEnvFile, ".env", "dotenv file loaded before reading the environment")
	flags.String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL or sqlite path")
	flags.Bool(flagAutoMigrate, false, "create or update tables on PostgreSQL at startup")
	flags.String(flagHTTPListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	flags.String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC health listen address")
	flags.String(flagAllowedOrigins, "", "comma separated CORS origins")
	flags.String(flagJWTSigningKey, "", "HS256 key for bearer tokens")
	flags.String(flagJWTIssuer, defaultJWTIssuer, "bearer token issuer")
	flags.String(flagOperators, "", "comma separated session user ids with access to every business unit")
	flags.String(flagSessionKey, "", "HS256 key for operator session cookies; empty disables /admin")
	flags.String(flagSessionIssuer, "", "session cookie issuer")
	flags.String(flagSessionCookie, "", "session cookie name")
	flags.String(flagUnlockAt, defaultUnlockAt, "UTC time of day for the unlock sweep (HH:MM)")
	flags.String(flagExpireAt, defaultExpireAt, "UTC time of day for the expiry sweep (HH:MM)")
	flags.Duration(flagSweepPoll, time.Minute, "how often the scheduler checks for due sweeps")
	flags.Int(flagSweepBatch, 0, "entries loaded per sweep batch")
	flags.Int(flagOutboxSize, defaultOutboxSize, "queued notifications before new ones are dropped")
	flags.String(flagSQSQueueURL, "", "SQS queue for burn notifications; empty logs them instead")
	flags.String(flagLogFile, "", "also write logs to this rotated file")

	cmd.AddCommand(newTokenCommand(cfg), newSweepCommand(cfg))
	return cmd
}

func newTokenCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a point-of-sale terminal or service",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString(flagTokenSubject)
			units, _ := cmd.Flags().GetStringSlice(flagTokenUnits)
			ttl, _ := cmd.Flags().GetDuration(flagTokenTTL)
			checker, err := auth.NewAccessChecker(cfg.Auth)
			if err != nil {
				return err
			}
			token, err := checker.IssueToken(subject, units, time.Now(), ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().String(flagTokenSubject, "", "token subject")
	cmd.Flags().StringSlice(flagTokenUnits, nil, "business units the token may act on; * for all")
	cmd.Flags().Duration(flagTokenTTL, defaultTokenTTL, "token lifetime")
	return cmd
}

func newSweepCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the unlock and expiry sweeps once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf := time.Now().UTC()
			if raw, _ := cmd.Flags().GetString(flagSweepAsOf); raw != "" {
				parsed, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					return fmt.Errorf("parse %s: %w", flagSweepAsOf, err)
				}
				asOf = parsed.UTC()
			}
			return runSweep(cmd.Context(), cfg, asOf, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String(flagSweepAsOf, "", "RFC3339 instant to sweep as of; defaults to now")
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	envFile, _ := cmd.Flags().GetString(flagEnvFile)
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, binding := range configBindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return err
		}
		if err := viper.BindPFlag(binding.key, cmd.Flags().Lookup(binding.key)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(flagDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.AutoMigrate = viper.GetBool(flagAutoMigrate)
	cfg.GRPCListenAddr = viper.GetString(flagGRPCListenAddr)
	if cfg.GRPCListenAddr == "" {
		cfg.GRPCListenAddr = defaultGRPCListenAddr
	}
	cfg.HTTP = httpapi.Config{
		ListenAddr:        viper.GetString(flagHTTPListenAddr),
		AllowedOrigins:    httpapi.ParseAllowedOrigins(viper.GetString(flagAllowedOrigins)),
		SessionSigningKey: viper.GetString(flagSessionKey),
		SessionIssuer:     viper.GetString(flagSessionIssuer),
		SessionCookieName: viper.GetString(flagSessionCookie),
	}
	if err := cfg.HTTP.Validate(); err != nil {
		return err
	}
	cfg.Auth = auth.Config{
		SigningKey: viper.GetString(flagJWTSigningKey),
		Issuer:     viper.GetString(flagJWTIssuer),
		Leeway:     30 * time.Second,
		Operators:  splitList(viper.GetString(flagOperators)),
	}
	if strings.TrimSpace(cfg.Auth.SigningKey) == "" {
		return fmt.Errorf("%s is required", flagJWTSigningKey)
	}

	var err error
	if cfg.UnlockAt, err = scheduler.ParseTimeOfDay(viper.GetString(flagUnlockAt)); err != nil {
		return fmt.Errorf("%s: %w", flagUnlockAt, err)
	}
	if cfg.ExpireAt, err = scheduler.ParseTimeOfDay(viper.GetString(flagExpireAt)); err != nil {
		return fmt.Errorf("%s: %w", flagExpireAt, err)
	}
	cfg.SweepPoll = viper.GetDuration(flagSweepPoll)
	cfg.SweepBatchSize = viper.GetInt(flagSweepBatch)
	cfg.OutboxSize = viper.GetInt(flagOutboxSize)
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = defaultOutboxSize
	}
	cfg.SQSQueueURL = viper.GetString(flagSQSQueueURL)
	cfg.LogFile = oplog.FileConfig{
		Path:       viper.GetString(flagLogFile),
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

// application holds the wired components shared by the server and the
// one-shot sweep command.
type application struct {
	logger   *zap.Logger
	database *database
	metrics  *metrics.Metrics
	checker  *auth.AccessChecker
	outbox   *notify.Outbox
	service  *wallet.Service
	runner   *scheduler.Runner
}

func newApplication(ctx context.Context, cfg *runtimeConfig) (*application, error) {
	logger, err := oplog.NewLogger(cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	conn, err := openDatabase(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	if err := prepareSchema(ctx, conn, cfg.AutoMigrate); err != nil {
		_ = conn.close()
		return nil, err
	}
	registry, err := metrics.New()
	if err != nil {
		_ = conn.close()
		return nil, fmt.Errorf("metrics init: %w", err)
	}
	checker, err := auth.NewAccessChecker(cfg.Auth)
	if err != nil {
		_ = conn.close()
		return nil, err
	}
	sender, err := newSender(ctx, cfg.SQSQueueURL, logger)
	if err != nil {
		_ = conn.close()
		return nil, err
	}
	outbox, err := notify.NewOutbox(sender, cfg.OutboxSize, notify.WithLogger(logger), notify.WithRecorder(registry))
	if err != nil {
		_ = conn.close()
		return nil, err
	}

	store := gormstore.New(conn.db)
	service, err := wallet.NewService(store, time.Now,
		wallet.WithAccessChecker(checker),
		wallet.WithCustomerResolver(store),
		wallet.WithRuleLookup(store),
		wallet.WithAuditSink(store),
		wallet.WithNotificationDispatcher(outbox),
		wallet.WithOperationLogger(oplog.New(logger)),
		wallet.WithOperationLogger(registry),
		wallet.WithSweepBatchSize(cfg.SweepBatchSize),
	)
	if err != nil {
		_ = conn.close()
		return nil, fmt.Errorf("wallet service init: %w", err)
	}
	runner, err := scheduler.NewRunner(
		scheduler.MaintenanceJobs(service, cfg.UnlockAt, cfg.ExpireAt),
		time.Now,
		scheduler.WithLogger(logger),
		scheduler.WithRecorder(registry),
		scheduler.WithPollInterval(cfg.SweepPoll),
	)
	if err != nil {
		_ = conn.close()
		return nil, err
	}
	return &application{
		logger:   logger,
		database: conn,
		metrics:  registry,
		checker:  checker,
		outbox:   outbox,
		service:  service,
		runner:   runner,
	}, nil
}

func (app *application) close() {
	if err := app.database.close(); err != nil {
		app.logger.Warn("database close failed", zap.Error(err))
	}
	_ = app.logger.Sync()
}

func newSender(ctx context.Context, queueURL string, logger *zap.Logger) (notify.Sender, error) {
	if queueURL == "" {
		return notify.NewLogSender(logger), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return notify.NewSQSSender(sqs.NewFromConfig(awsCfg), queueURL)
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	sessions, err := httpapi.NewSessionValidator(cfg.HTTP)
	if err != nil {
		return err
	}
	router, err := httpapi.NewRouter(cfg.HTTP, httpapi.Dependencies{
		Service:       app.service,
		Authenticator: app.checker,
		Access:        app.checker,
		Maintenance:   app.runner,
		Sessions:      sessions,
		Metrics:       app.metrics.Handler(),
		Logger:        app.logger,
	})
	if err != nil {
		return err
	}
	health := grpchealth.New(
		grpchealth.WithLogger(app.logger),
		grpchealth.WithProbe(app.database.ping, 15*time.Second),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return httpapi.Run(groupCtx, cfg.HTTP, router, app.logger) })
	group.Go(func() error { return health.Run(groupCtx, cfg.GRPCListenAddr) })
	group.Go(func() error { return health.Watch(groupCtx) })
	group.Go(func() error { return app.runner.Run(groupCtx) })
	group.Go(func() error { return app.outbox.Run(groupCtx) })
	app.logger.Info("walletd started",
		zap.String("http_listen_addr", cfg.HTTP.ListenAddr),
		zap.String("grpc_listen_addr", cfg.GRPCListenAddr),
		zap.Bool("operator_sessions", cfg.HTTP.SessionsEnabled()),
	)
	return group.Wait()
}

func runSweep(ctx context.Context, cfg *runtimeConfig, asOf time.Time, out io.Writer) error {
	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan error, 1)
	go func() { workerDone <- app.outbox.Run(workerCtx) }()

	results := app.runner.RunAll(ctx, asOf)
	stopWorker()
	if err := <-workerDone; err != nil {
		return err
	}

	var failed error
	summaries := make([]map[string]any, 0, len(results))
	for _, result := range results {
		summary := map[string]any{
			"job":       result.Job,
			"as_of":     result.AsOf,
			"scanned":   result.Report.Scanned,
			"processed": result.Report.Processed,
			"skipped":   result.Report.Skipped,
			"failed":    result.Report.Failed,
			"points":    result.Report.Points.String(),
		}
		if result.Err != nil {
			summary["error"] = result.Err.Error()
			failed = errors.Join(failed, fmt.Errorf("%s: %w", result.Job, result.Err))
		}
		summaries = append(summaries, summary)
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(summaries); err != nil {
		return err
	}
	return failed
}
