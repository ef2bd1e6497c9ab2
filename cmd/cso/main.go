package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rewired-gh/cso/internal/candidates"
	"github.com/rewired-gh/cso/internal/config"
	"github.com/rewired-gh/cso/internal/engine"
	"github.com/rewired-gh/cso/internal/logger"
	"github.com/rewired-gh/cso/internal/models"
	"github.com/rewired-gh/cso/internal/report"
	"github.com/rewired-gh/cso/internal/storage"
	"github.com/rewired-gh/cso/internal/telegram"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
	"github.com/xhhuango/json"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (defaults and CSO_* environment when empty)")
	inputPath  = flag.String("input", "", "Path to a YAML or JSON candidates file")
	mode       = flag.String("mode", "", "Screening mode: disciplined or ranked (overrides config)")
	preset     = flag.String("preset", "", "Criteria preset: conservative, standard or aggressive (overrides config)")
	topN       = flag.Int("top", -1, "Keep the top N ranked spreads, 0 keeps all (overrides config)")
	perTicker  = flag.Int("per-ticker", -1, "Rank each ticker separately and keep the top N of each (overrides config)")
	asJSON     = flag.Bool("json", false, "Print the result as JSON instead of a text report")
	save       = flag.Bool("save", false, "Persist the run even when storage is disabled in config")
	notify     = flag.Bool("notify", false, "Send the run to Telegram even when disabled in config")
	progress   = flag.Bool("progress", false, "Show a progress bar while evaluating candidates")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if *configPath != "" {
		logger.Debug("Configuration loaded from %s", *configPath)
	}

	if *inputPath == "" {
		logger.Fatal("-input is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cancelling screening...")
		cancel()
	}()

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Debug("Telegram client initialized")
	}

	runs, err := run(ctx, cfg)
	if err != nil {
		logger.Error("Screening failed: %v", err)
		if telegramClient != nil {
			if sendErr := telegramClient.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		os.Exit(1)
	}

	if cfg.Storage.Enabled {
		store, err := storage.New(cfg.Storage.MaxRuns, cfg.Storage.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize storage: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}()
		for _, r := range runs {
			if err := store.SaveRun(r); err != nil {
				logger.Error("Failed to save run %s: %v", r.ID, err)
				continue
			}
			logger.Info("Saved run %s", r.ID)
		}
	}

	if telegramClient != nil {
		for _, r := range runs {
			if err := telegramClient.Send(r); err != nil {
				logger.Error("Failed to send Telegram notification: %v", err)
			}
		}
	}
}

// applyFlags lets command-line flags override the loaded config.
func applyFlags(cfg *config.Config) {
	if *mode != "" {
		cfg.Screening.Mode = *mode
	}
	if *preset != "" {
		cfg.Screening.Preset = *preset
	}
	if *topN >= 0 {
		cfg.Screening.TopN = *topN
	}
	if *perTicker >= 0 {
		cfg.Screening.TopNPerTicker = *perTicker
	}
	if *perTicker > 0 {
		cfg.Screening.Mode = config.ModeRanked
	}
	if *save {
		cfg.Storage.Enabled = true
	}
	if *notify {
		cfg.Telegram.Enabled = true
	}
}

// run loads the candidates, screens them and prints the outcome. It returns
// one run per result: one per ticker for per-ticker ranking.
func run(ctx context.Context, cfg *config.Config) ([]*models.Run, error) {
	criteria, err := cfg.ScreeningCriteria()
	if err != nil {
		return nil, err
	}
	asOf, err := cfg.AsOf()
	if err != nil {
		return nil, err
	}

	file, err := candidates.Load(*inputPath)
	if err != nil {
		return nil, err
	}
	spreads, buildErrs, err := file.Build(asOf)
	if err != nil {
		return nil, err
	}
	for _, e := range buildErrs {
		logger.Warn("Skipping invalid candidate: %v", e)
	}
	logger.Info("Loaded %d candidates from %s (%d invalid)", len(spreads), *inputPath, len(buildErrs))

	engCfg := engine.Config{
		Workers: cfg.Screening.Workers,
		Order:   cfg.FilterOrder(),
		Market:  file.Market(cfg.GreeksProvider()),
	}
	var p *mpb.Progress
	if *progress && len(spreads) > 0 {
		p = mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
		bar := p.AddBar(int64(len(spreads)),
			mpb.PrependDecorators(
				decor.Name("Screening"),
				decor.Percentage(decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersNoUnit("(%d / %d)", decor.WCSyncSpace),
			),
		)
		engCfg.Progress = func(done, total int) { bar.Increment() }
	}

	eng, err := engine.New(criteria, engCfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var results []*models.ScreeningResult
	var tickers []engine.TickerResult
	switch {
	case cfg.Screening.Mode == config.ModeDisciplined:
		r, err := eng.Screen(ctx, spreads)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	case cfg.Screening.TopNPerTicker > 0:
		w := cfg.OptimizerWeights()
		tickers, err = eng.RankByTicker(ctx, spreads, &w, cfg.Screening.TopNPerTicker)
		if err != nil {
			return nil, err
		}
		for _, t := range tickers {
			results = append(results, t.Result)
		}
	default:
		w := cfg.OptimizerWeights()
		r, err := eng.Rank(ctx, spreads, &w, cfg.Screening.TopN)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if p != nil {
		p.Wait()
	}
	logger.Info("Screened %d candidates in %v", len(spreads), time.Since(start))

	if err := printResults(results, tickers, criteria); err != nil {
		return nil, err
	}

	now := time.Now()
	runs := make([]*models.Run, 0, len(results))
	for _, r := range results {
		runs = append(runs, models.NewRun(r, now))
	}
	return runs, nil
}

func printResults(results []*models.ScreeningResult, tickers []engine.TickerResult, criteria models.ScreeningCriteria) error {
	if *asJSON {
		var out interface{}
		switch {
		case tickers != nil:
			out = tickers
		case len(results) == 1:
			out = struct {
				*models.ScreeningResult
				Recommendations []report.Recommendation `json:"recommendations"`
				Diagnostics     []report.Diagnosis      `json:"diagnostics,omitempty"`
			}{results[0], report.Recommendations(results[0]), report.Diagnose(results[0], criteria)}
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	for i, r := range results {
		if tickers != nil {
			fmt.Printf("\n%s\n", tickers[i].Ticker)
		}
		fmt.Print(report.Summary(r))
		fmt.Print(report.Diagnostics(report.Diagnose(r, criteria)))
	}
	return nil
}
