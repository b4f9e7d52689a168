package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"tranchepool/archive"
	"tranchepool/calendar"
	"tranchepool/config"
	"tranchepool/gateway"
	"tranchepool/ledger"
	"tranchepool/native/credit"
	"tranchepool/native/pool"
	"tranchepool/observability/logging"
	telemetry "tranchepool/observability/otel"
	"tranchepool/receivable"
	"tranchepool/storage"
)

const (
	envEnvironment = "POOLD_ENV"
	envAuthSecret  = "POOLD_AUTH_SECRET"
)

// ServiceConfig carries the daemon's own knobs. Pool economics live in the
// separate TOML file referenced by PoolConfig.
type ServiceConfig struct {
	ListenAddress string `yaml:"listen"`
	DataDir       string `yaml:"data_dir"`
	ArchivePath   string `yaml:"archive_path"`
	PoolConfig    string `yaml:"pool_config"`
	EpochCron     string `yaml:"epoch_cron"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`

	RateLimit struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	Auth struct {
		Enabled  bool   `yaml:"enabled"`
		Issuer   string `yaml:"issuer"`
		Audience string `yaml:"audience"`
	} `yaml:"auth"`
}

func loadServiceConfig(path string) (ServiceConfig, error) {
	cfg := ServiceConfig{
		ListenAddress: ":8645",
		DataDir:       "./data",
		PoolConfig:    "./pool.toml",
		EpochCron:     "5 0 * * *",
	}
	cfg.RateLimit.PerSecond = 20
	cfg.RateLimit.Burst = 40
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return ServiceConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8645"
	}
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = filepath.Join(cfg.DataDir, "epochs.db")
	}
	return cfg, nil
}

// epochCloser closes the pool epoch and fans the outcome out to the
// checkpoint store and the reporting archive. The gateway's admin trigger and
// the cron schedule both go through it.
type epochCloser struct {
	pool      *pool.Pool
	snapshots *storage.SnapshotStore
	archive   *archive.Archive
	log       *slog.Logger
}

func (c *epochCloser) CloseEpoch() error {
	closing := c.pool.CurrentEpoch()
	if err := c.pool.CloseEpoch(); err != nil {
		return err
	}
	closedAt := time.Now().UTC()
	next := c.pool.CurrentEpoch()
	if err := c.snapshots.SaveEpochCheckpoint(storage.EpochCheckpoint{
		EpochID:  next.ID,
		EndTime:  next.EndTime,
		ClosedAt: closedAt,
	}); err != nil {
		c.log.Error("save epoch checkpoint", "error", err)
	}
	if err := c.archiveEpoch(closing, closedAt); err != nil {
		c.log.Error("archive epoch close", "error", err, "epoch", closing.ID)
	}
	c.log.Info("epoch closed", "epoch", closing.ID, "next_epoch", next.ID, "next_end", next.EndTime)
	return nil
}

func (c *epochCloser) archiveEpoch(closed pool.CurrentEpoch, closedAt time.Time) error {
	trancheNames := [pool.NumTranches]string{"senior", "junior"}
	assets := make([]*big.Int, pool.NumTranches)
	for i := range assets {
		total, err := c.pool.TotalAssets(i)
		if err != nil {
			return err
		}
		assets[i] = total
	}
	outcomes := make([]archive.RedemptionOutcome, 0, pool.NumTranches)
	for i, name := range trancheNames {
		sum, err := c.pool.EpochRedemptionSummary(i, closed.ID)
		if err != nil {
			return err
		}
		if sum == nil || sum.TotalSharesRequested.Sign() == 0 {
			continue
		}
		outcomes = append(outcomes, archive.RedemptionOutcome{
			Tranche:         name,
			SharesRequested: sum.TotalSharesRequested.String(),
			SharesProcessed: sum.TotalSharesProcessed.String(),
			AmountProcessed: sum.TotalAmountProcessed.String(),
			PartialFill:     sum.TotalSharesProcessed.Cmp(sum.TotalSharesRequested) < 0,
		})
	}
	return c.archive.RecordEpochClose(archive.EpochRecord{
		PoolName:     c.pool.Name(),
		EpochID:      closed.ID,
		EndTime:      closed.EndTime,
		ClosedAt:     closedAt,
		SeniorAssets: assets[pool.SeniorTranche].String(),
		JuniorAssets: assets[pool.JuniorTranche].String(),
	}, outcomes)
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "poold.yaml", "path to poold config")
	flag.Parse()

	cfg, err := loadServiceConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv(envEnvironment))
	logger := logging.Setup("poold", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	otlpInsecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			otlpInsecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "poold",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    otlpInsecure,
		Headers:     otlpHeaders,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	poolCfg, err := config.Load(cfg.PoolConfig)
	if err != nil {
		log.Fatalf("load pool config: %v", err)
	}
	lpConfig, err := poolCfg.PoolConfig()
	if err != nil {
		log.Fatalf("pool config: %v", err)
	}
	terms, err := poolCfg.CreditTerms()
	if err != nil {
		log.Fatalf("credit terms: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		log.Fatalf("open state db: %v", err)
	}
	defer db.Close()
	snapshots := storage.NewSnapshotStore(db, "poold")
	checkpoint, haveCheckpoint, err := snapshots.LoadEpochCheckpoint()
	if err != nil {
		log.Fatalf("load epoch checkpoint: %v", err)
	}

	arch, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		log.Fatalf("open epoch archive: %v", err)
	}

	safeAddr := poolCfg.SafeAddress()
	ownerAddr := poolCfg.OwnerAddress()
	l := ledger.New(poolCfg.Pool.Currency)
	cal := calendar.New()
	p, err := pool.New(lpConfig, cal, l, safeAddr, ownerAddr, logger)
	if err != nil {
		log.Fatalf("construct pool: %v", err)
	}
	if haveCheckpoint {
		resumed := pool.CurrentEpoch{ID: checkpoint.EpochID, EndTime: checkpoint.EndTime}
		if err := p.RestoreEpoch(resumed); err != nil {
			log.Fatalf("restore epoch checkpoint: %v", err)
		}
		logger.Info("resumed at checkpointed epoch",
			"epoch", checkpoint.EpochID,
			"end_time", checkpoint.EndTime,
			"closed_at", checkpoint.ClosedAt)
	}
	for _, coverCfg := range poolCfg.Covers {
		cc, err := coverCfg.CoverConfig()
		if err != nil {
			log.Fatalf("cover %s: %v", coverCfg.Name, err)
		}
		if _, err := p.AddFirstLossCover(coverCfg.Name, cc, coverCfg.CoverAddress()); err != nil {
			log.Fatalf("register cover %s: %v", coverCfg.Name, err)
		}
	}
	receivables := receivable.NewRegistry()
	credits := credit.NewManager(lpConfig.PoolName, safeAddr, cal, terms, p, receivables, logger)

	authSecret := strings.TrimSpace(os.Getenv(envAuthSecret))
	if cfg.Auth.Enabled && authSecret == "" {
		log.Fatalf("auth enabled but %s is not set", envAuthSecret)
	}
	auth := gateway.NewAuthenticator(gateway.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: authSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, logger)
	limiter := gateway.NewRateLimiter(gateway.RateLimit{
		PerSecond: cfg.RateLimit.PerSecond,
		Burst:     cfg.RateLimit.Burst,
	})

	closer := &epochCloser{pool: p, snapshots: snapshots, archive: arch, log: logger}
	server := gateway.NewServer(p, credits, arch, closer, auth, limiter, logger)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.EpochCron, func() {
		if err := closer.CloseEpoch(); err != nil {
			if errors.Is(err, pool.ErrEpochNotDue) {
				logger.Debug("scheduled close skipped, epoch still open")
				return
			}
			logger.Error("scheduled epoch close failed", "error", err)
		}
	}); err != nil {
		log.Fatalf("epoch schedule %q: %v", cfg.EpochCron, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("poold listening", "address", cfg.ListenAddress, "pool", lpConfig.PoolName)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}
