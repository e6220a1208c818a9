package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rewired-gh/glaubernbd/internal/centrality"
	"github.com/rewired-gh/glaubernbd/internal/config"
	"github.com/rewired-gh/glaubernbd/internal/fit"
	"github.com/rewired-gh/glaubernbd/internal/histogram"
	"github.com/rewired-gh/glaubernbd/internal/input"
	"github.com/rewired-gh/glaubernbd/internal/logger"
	"github.com/rewired-gh/glaubernbd/internal/models"
	"github.com/rewired-gh/glaubernbd/internal/storage"
	"github.com/rewired-gh/glaubernbd/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	envPath    = flag.String("env", ".env", "Path to an optional .env file with GLAUBER_NBD_* overrides")
)

func main() {
	flag.Parse()

	// .env values become environment variables before viper reads them
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envPath, err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	if err := run(cfg); err != nil {
		logger.Error("Run failed: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(cfg *config.Config) error {
	// Initialize storage
	store, err := storage.New(cfg.Storage.MaxRuns, cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
	}()

	record, bins, err := fitAndMap(ctx, cfg, store)
	if err != nil {
		if telegramClient != nil {
			if sendErr := telegramClient.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		return err
	}

	if removed, err := store.RotateRuns(); err != nil {
		logger.Warn("Failed to rotate stored runs: %v", err)
	} else if removed > 0 {
		logger.Debug("Rotated out %d old runs", removed)
	}

	if telegramClient != nil {
		if err := telegramClient.SendFitResult(record, bins); err != nil {
			logger.Warn("Failed to send fit notification to Telegram: %v", err)
		}
	}
	return nil
}

// fitAndMap loads the inputs, fits, stores the run and maps centrality.
func fitAndMap(ctx context.Context, cfg *config.Config, store *storage.Storage) (*models.FitRun, []models.CentralityBin, error) {
	loader := input.NewClient(cfg.Input.Timeout, cfg.Input.MaxRetries, cfg.Input.RetryDelay)
	table, err := loader.LoadCorrelation(ctx, cfg.Input.CorrelationPath)
	if err != nil {
		return nil, nil, err
	}
	multiplicity, err := loader.LoadMultiplicity(ctx, cfg.Input.MultiplicityPath)
	if err != nil {
		return nil, nil, err
	}

	fitter := fit.New(cfg.Input.MaxPairs)
	if err := fitter.SetCorrelation(table); err != nil {
		return nil, nil, err
	}
	optimizer := fit.DefaultNelderMead()
	optimizer.Tolerance = cfg.Fit.Tolerance

	mode := cfg.AncestorMode()
	result, err := fitter.Fit(multiplicity, cfg.InitialParams(), mode, cfg.Fit.RangeLo, cfg.Fit.RangeHi, fit.Options{
		UseDMu:        cfg.Model.UseDMu,
		MaxIterations: cfg.Fit.MaxIterations,
		Optimizer:     optimizer,
	})
	if err != nil {
		return nil, nil, err
	}

	record := result.Record()
	if err := store.AddRun(record); err != nil {
		return nil, nil, fmt.Errorf("failed to store run: %w", err)
	}
	logger.Info("Stored run %s in %s", record.ID, store.Path())

	if !cfg.Centrality.Enabled {
		return record, nil, nil
	}
	if !result.Success {
		logger.Warn("Skipping centrality mapping for unconverged run %s", record.ID)
		return record, nil, nil
	}

	out, err := centralityOutputs(cfg, multiplicity)
	if err != nil {
		return nil, nil, err
	}
	mapper := centrality.NewMapper(cfg.Fit.RangeLo, cfg.Fit.RangeHi)
	if err := mapper.MapAverages(ctx, fitter.Sample(), fitter.Params(), mode, cfg.Centrality.RangeLo, cfg.Centrality.RangeHi, out); err != nil {
		return nil, nil, fmt.Errorf("centrality mapping failed: %w", err)
	}

	bins, err := centrality.Table(record.ID, out.NpartProfile, out.NcollProfile)
	if err != nil {
		return nil, nil, err
	}
	if err := store.AddCentrality(record.ID, bins); err != nil {
		return nil, nil, fmt.Errorf("failed to store centrality table: %w", err)
	}
	logger.Info("Stored %d centrality bins for run %s", len(bins), record.ID)
	return record, bins, nil
}

// centralityOutputs binds profiles on the multiplicity axis, or on a 0-100%
// percentile axis when percentiles are enabled.
func centralityOutputs(cfg *config.Config, multiplicity *histogram.H1D) (centrality.Outputs, error) {
	var out centrality.Outputs
	axis := multiplicity.Axis()
	if cfg.Centrality.UsePercentiles {
		pmap, err := centrality.PercentileMap(multiplicity)
		if err != nil {
			return out, err
		}
		out.PercentileMap = pmap
		axis = histogram.Axis{NBins: 100, Min: 0, Max: 100}
	}

	var err error
	if out.NpartProfile, err = histogram.NewProfile(axis.NBins, axis.Min, axis.Max); err != nil {
		return out, err
	}
	if out.NcollProfile, err = histogram.NewProfile(axis.NBins, axis.Min, axis.Max); err != nil {
		return out, err
	}
	return out, nil
}
