// Command pipeline builds the municipality panel: it loads every source,
// aligns and merges them, joins the boundary geometry, and writes the panel
// CSV and municipality GeoJSON artifacts. With -serve it stays up afterwards
// and exposes the artifacts over HTTP.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	httpadapter "github.com/epibel/covid-panel-etl/internal/adapter/http"
	kafkaadapter "github.com/epibel/covid-panel-etl/internal/adapter/kafka"
	"github.com/epibel/covid-panel-etl/internal/config"
	"github.com/epibel/covid-panel-etl/internal/export"
	"github.com/epibel/covid-panel-etl/internal/observability"
	"github.com/epibel/covid-panel-etl/internal/pipeline"
	"github.com/epibel/covid-panel-etl/internal/source"
)

func main() {
	serve := flag.Bool("serve", false, "keep running and serve artifacts over HTTP after the build")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	cache, err := source.NewCache(cfg.CacheDir)
	if err != nil {
		logger.Error("failed to open cache", "error", err)
		os.Exit(1)
	}
	fetcher := source.NewFetcher(cache, source.FetcherOptions{
		Timeout:      cfg.FetchTimeout,
		Retries:      cfg.FetchRetries,
		ForceRefresh: cfg.ForceRefresh,
		AllowStale:   cfg.AllowStaleCache,
	}, logger, metrics)

	sources := pipeline.Sources{
		Cases:       source.NewCasesLoader(fetcher, cfg.CasesURL, logger, metrics),
		Vaccination: source.NewVaccinationLoader(fetcher, cfg.VaccURL, logger, metrics),
		Population:  source.NewPopulationLoader(cfg.PopulationXLSX, logger, metrics),
		Stringency:  source.NewStringencyLoader(cfg.StringencyXLSX, logger, metrics),
		Boundaries:  source.NewBoundariesLoader(fetcher, cfg.BoundariesURL, logger, metrics),
	}

	var publisher pipeline.Publisher
	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger, metrics)
		defer writer.Close() //nolint:errcheck
		publisher = writer
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaPanelTopic)
	}

	p := pipeline.New(cfg, sources, publisher, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	build, err := p.Run(ctx)
	if err != nil {
		logger.Error("panel build failed", "error", err)
		os.Exit(1)
	}
	if err := writeArtifacts(cfg.OutputDir, build); err != nil {
		logger.Error("failed to write artifacts", "error", err)
		os.Exit(1)
	}
	logger.Info("artifacts written", "dir", cfg.OutputDir)

	if !*serve {
		return
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

// writeArtifacts renders the build into OUTPUT_DIR. Each file is written to
// a temp name and renamed so readers never see a partial artifact.
func writeArtifacts(dir string, build *pipeline.Build) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var csvBuf bytes.Buffer
	if err := export.WritePanelCSV(&csvBuf, build.Rows); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, "panel.csv"), csvBuf.Bytes()); err != nil {
		return err
	}

	var geoBuf bytes.Buffer
	if err := export.WriteGeoJSON(&geoBuf, build.Geometry); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "municipalities.geojson"), geoBuf.Bytes())
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return nil
}
