package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nimdanitro/fenceline-dashboard/pkg/archive"
	"github.com/nimdanitro/fenceline-dashboard/pkg/backend"
	"github.com/nimdanitro/fenceline-dashboard/pkg/config"
	"github.com/nimdanitro/fenceline-dashboard/pkg/dashboard"
	"github.com/nimdanitro/fenceline-dashboard/pkg/server"
	"github.com/nimdanitro/fenceline-dashboard/pkg/store"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const scope = "github.com/nimdanitro/fenceline-dashboard"

var (
	configPath string
	listen     string
	backendURL string
	logLevel   string
	pathways   map[string]string
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// .env is optional
	_ = godotenv.Load()

	// Parse command line flags
	if err := registerFlags(pflag.CommandLine); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	pflag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Setup Otel
	shutdown, err := setupOTelSDK(ctx)
	defer shutdown(context.Background())
	if err != nil {
		panic(err)
	}

	// Initialize logger
	level, _ := zapcore.ParseLevel(cfg.Logging.Level)
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(os.Stdout), level),
		otelzap.NewCore(scope, otelzap.WithLoggerProvider(global.GetLoggerProvider())),
	)
	logger := zap.New(core)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	logger.Info("starting up", zap.String("version", version), zap.String("commit", commit), zap.String("buildDate", date))

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("dashboard stopped", zap.Error(err))
	}
}

// registerFlags defines the command line flags; each falls back to a DASHBOARD_* variable.
func registerFlags(fs *pflag.FlagSet) error {
	fs.StringVarP(&configPath, "config", "c", os.Getenv("DASHBOARD_CONFIG"), "Path to the YAML configuration file")
	fs.StringVar(&listen, "listen", os.Getenv("DASHBOARD_LISTEN"), "HTTP listen address (overrides config)")
	fs.StringVar(&backendURL, "backend-url", os.Getenv("DASHBOARD_BACKEND_URL"), "Base URL of the data service (overrides config)")
	fs.StringVar(&logLevel, "log-level", os.Getenv("DASHBOARD_LOG_LEVEL"), "Log level: debug, info, warn, error (overrides config)")
	fs.StringToStringVarP(&pathways, "pathways", "p", map[string]string{}, "Comma-separated pathway=label mappings (FNorth=North,FPC=Point Comfort)")
	if env := os.Getenv("DASHBOARD_PATHWAYS"); env != "" {
		if err := fs.Set("pathways", env); err != nil {
			return fmt.Errorf("DASHBOARD_PATHWAYS: %w", err)
		}
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if backendURL != "" {
		cfg.Backend.BaseURL = backendURL
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if tok := os.Getenv("DASHBOARD_TOKEN"); tok != "" {
		cfg.Backend.Token = tok
	}
	cfg.ApplyPathways(pathways)
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// create the data service client
	client, err := backend.NewClient(cfg.Backend.BaseURL,
		backend.WithLogger(logger.Named("backend")),
		backend.WithPaths(cfg.Backend.ReadingsPath, cfg.Backend.AveragesPath),
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithRateLimit(cfg.Backend.RateEvery, cfg.Backend.RateBurst),
	)
	if err != nil {
		return fmt.Errorf("cannot create backend client: %w", err)
	}

	catalog, err := dashboard.LoadCatalog(cfg.Dashboard.Language)
	if err != nil {
		return err
	}

	telemetry, err := newTelemetrySink()
	if err != nil {
		return fmt.Errorf("cannot create instruments: %w", err)
	}

	hub := server.NewHub(logger.Named("events"))
	opts := []dashboard.Option{
		dashboard.WithLogger(logger.Named("dashboard")),
		dashboard.WithPathways(cfg.Dashboard.Pathways),
		dashboard.WithSelection(cfg.Dashboard.DefaultPathway, cfg.Dashboard.DefaultAverage),
		dashboard.WithMaxLookback(cfg.Dashboard.MaxLookback),
		dashboard.WithTranslator(catalog),
		dashboard.WithEventSink(hub),
		dashboard.WithSnapshotSink(telemetry),
	}
	srvOpts := []server.Option{server.WithLogger(logger.Named("http")), server.WithHub(hub)}

	if cfg.Database.Driver != "" {
		st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, logger.Named("store"))
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, dashboard.WithSnapshotSink(st))
		srvOpts = append(srvOpts, server.WithHistory(st))
	}

	if cfg.Archive.Bucket != "" {
		sink, err := archive.NewS3Sink(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.Region, logger.Named("archive"))
		if err != nil {
			return err
		}
		opts = append(opts, dashboard.WithSnapshotSink(sink))
	}

	ctrl, err := dashboard.New(client, backend.StaticToken(cfg.Backend.Token), opts...)
	if err != nil {
		return fmt.Errorf("cannot create dashboard: %w", err)
	}

	srv, err := server.New(ctx, ctrl, srvOpts...)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	refresh := func(first bool) {
		logger.Info("fetching data from data service", zap.Bool("initial", first))
		op := ctrl.Refresh
		if first {
			op = ctrl.Start
		}
		if err := op(ctx); err != nil && !errors.Is(err, dashboard.ErrSuperseded) {
			logger.Error("Failed to fetch data", zap.Error(err))
		}
	}

	go refresh(true)

	var tick <-chan time.Time
	if cfg.Dashboard.RefreshInterval > 0 {
		ticker := time.NewTicker(cfg.Dashboard.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			refresh(false)
		case err := <-errc:
			return err
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := httpSrv.Shutdown(shutdownCtx)
			srv.Wait()
			return err
		}
	}
}

// telemetrySink records every displayed reading on the OTel meter.
type telemetrySink struct {
	value       metric.Float64Gauge
	lastReading metric.Float64Histogram
}

func newTelemetrySink() (*telemetrySink, error) {
	meter := otel.Meter(scope, metric.WithInstrumentationAttributes(semconv.OTelScopeName(scope)))

	value, err := meter.Float64Gauge("sensor.channel.value",
		metric.WithDescription("Latest displayed value of a sensor channel"),
	)
	if err != nil {
		return nil, err
	}
	lastReading, err := meter.Float64Histogram("sensor.lastReading.duration",
		metric.WithDescription("The duration since the last sensor reading."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &telemetrySink{value: value, lastReading: lastReading}, nil
}

func (t *telemetrySink) Record(ctx context.Context, snap dashboard.Snapshot) error {
	base := []attribute.KeyValue{
		attribute.String("sensor.pathway", snap.Pathway),
		attribute.String("sensor.average", snap.Average),
	}
	for _, row := range snap.Rows {
		if row.Value.Kind != dashboard.KindNumber {
			continue
		}
		t.value.Record(ctx, row.Value.Num, metric.WithAttributes(append(base, attribute.String("sensor.channel", row.Name))...))
	}
	if snap.Event != nil {
		age := snap.TakenAt.Sub(time.Unix(snap.Event.TS, 0)).Seconds()
		t.lastReading.Record(ctx, age, metric.WithAttributes(base...))
	}
	return nil
}
