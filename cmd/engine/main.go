// Package main provides the entry point for the trinity decision engine.
// It feeds NDJSON input records from stdin (or a file) through the
// portfolio engine, writes one cycle report per cycle boundary to stdout,
// and serves the HTTP/WebSocket API alongside.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wolverine-quant/trinity-engine/internal/api"
	"github.com/wolverine-quant/trinity-engine/internal/config"
	"github.com/wolverine-quant/trinity-engine/internal/events"
	"github.com/wolverine-quant/trinity-engine/internal/metrics"
	"github.com/wolverine-quant/trinity-engine/internal/portfolio"
	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

// feedLine is one NDJSON record from the host. Control records carry an
// op; everything else is an input record for the cycle in progress.
type feedLine struct {
	Op        string           `json:"op,omitempty"`
	Timestamp int64            `json:"timestamp,omitempty"`
	Kind      types.RecordKind `json:"kind,omitempty"`
	Bar       types.Bar        `json:"bar,omitempty"`
	Signal    types.Signal     `json:"signal,omitempty"`
}

const (
	opEndCycle = "end_cycle"
	opDayBegin = "day_begin"
	opDayEnd   = "day_end"
	opSnapshot = "snapshot"
)

// guardedEngine serializes API reads against the feed loop.
type guardedEngine struct {
	mu     sync.Mutex
	engine *portfolio.Engine
}

func (g *guardedEngine) LastReport() *types.CycleReport {
	return g.engine.LastReport()
}

func (g *guardedEngine) Config() *types.EngineConfig {
	return g.engine.Config()
}

func (g *guardedEngine) Snapshot() (*portfolio.EngineState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.engine.Snapshot()
}

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration (defaults apply when empty)")
	listen := flag.String("listen", ":8080", "API listen address")
	feedPath := flag.String("feed", "-", "NDJSON input feed ('-' for stdin)")
	restorePath := flag.String("restore", "", "Engine snapshot to resume from")
	snapshotOut := flag.String("snapshot-out", "", "Write a snapshot here when the feed ends")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(logger, *configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	hub := api.NewHub(logger)
	go hub.Run()

	sink := events.NewMultiSink(events.NewZapSink(logger), hub)

	var engine *portfolio.Engine
	if *restorePath != "" {
		engine, err = restoreEngine(logger, cfg, *restorePath, sink, collector)
	} else {
		engine, err = portfolio.NewEngine(logger, cfg, sink, collector)
	}
	if err != nil {
		logger.Fatal("Failed to initialize engine", zap.Error(err))
	}

	guarded := &guardedEngine{engine: engine}
	server := api.NewServer(logger, guarded, hub, registry)

	go func() {
		if err := server.Start(*listen); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	logger.Info("Engine started",
		zap.String("listen", *listen),
		zap.String("feed", *feedPath),
		zap.Int("instruments", len(cfg.Instruments)))

	feed := os.Stdin
	if *feedPath != "-" {
		feed, err = os.Open(*feedPath)
		if err != nil {
			logger.Fatal("Failed to open feed", zap.Error(err))
		}
		defer feed.Close()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- runFeed(logger, guarded, hub, feed, os.Stdout)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Feed loop failed", zap.Error(err))
		} else {
			logger.Info("Feed exhausted")
		}
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	if *snapshotOut != "" {
		if err := writeSnapshot(guarded, *snapshotOut); err != nil {
			logger.Error("Failed to write snapshot", zap.Error(err))
		} else {
			logger.Info("Snapshot written", zap.String("path", *snapshotOut))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Engine stopped")
}

// runFeed drives the engine from the NDJSON feed. Malformed lines and
// unroutable records are logged and skipped; the feed itself is the
// source of truth for cycle and day boundaries.
func runFeed(logger *zap.Logger, g *guardedEngine, hub *api.Hub, feed io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(feed)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	encoder := json.NewEncoder(out)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line feedLine
		if err := json.Unmarshal(raw, &line); err != nil {
			logger.Warn("Skipping malformed feed line",
				zap.Int("line", lineNo), zap.Error(err))
			continue
		}

		g.mu.Lock()
		switch line.Op {
		case "":
			record := types.InputRecord{Kind: line.Kind, Bar: line.Bar, Signal: line.Signal}
			if err := g.engine.Ingest(record); err != nil {
				logger.Warn("Dropping input record",
					zap.Int("line", lineNo),
					zap.String("instrument", record.Instrument()),
					zap.Error(err))
			}

		case opEndCycle:
			report := g.engine.EndCycle(line.Timestamp)
			if err := encoder.Encode(report); err != nil {
				g.mu.Unlock()
				return fmt.Errorf("writing cycle report: %w", err)
			}
			hub.BroadcastCycleReport(report)

		case opDayBegin:
			g.engine.BeginTradingDay(line.Timestamp)

		case opDayEnd:
			g.engine.EndTradingDay(line.Timestamp)

		case opSnapshot:
			state, err := g.engine.Snapshot()
			if err != nil {
				logger.Error("Snapshot request failed", zap.Error(err))
			} else if err := encoder.Encode(state); err != nil {
				g.mu.Unlock()
				return fmt.Errorf("writing snapshot: %w", err)
			}

		default:
			logger.Warn("Unknown feed op",
				zap.Int("line", lineNo), zap.String("op", line.Op))
		}
		g.mu.Unlock()
	}

	return scanner.Err()
}

func restoreEngine(logger *zap.Logger, cfg *types.EngineConfig, path string, sink events.Sink, collector *metrics.Collector) (*portfolio.Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var state portfolio.EngineState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	logger.Info("Resuming from snapshot",
		zap.String("path", path),
		zap.Int64("bar_index", state.BarIndex))
	return portfolio.RestoreEngine(logger, cfg, &state, sink, collector)
}

func writeSnapshot(g *guardedEngine, path string) error {
	state, err := g.Snapshot()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
