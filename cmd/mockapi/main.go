// Command mockapi serves a hotspot GeoJSON fixture as a paged feature API,
// with limit/offset paging, rel=next links and an optional date filter.
//
// Usage:
//
//	go run ./cmd/mockapi -fixture data/mock/hotspots_240107.geojson -addr :8090
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("mockapi failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":8090", "listen address")
	fixture := flag.String("fixture", "", "GeoJSON FeatureCollection to serve")
	dateParam := flag.String("date-param", "th_date", "query parameter that filters by date")
	apiKey := flag.String("api-key", "", "require this api_key on every request")
	defaultLimit := flag.Int("default-limit", 1000, "page size when the request has no limit")
	latency := flag.Duration("latency", 0, "artificial delay per page")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *fixture == "" {
		flag.Usage()
		return errors.New("missing required flag: -fixture")
	}

	logger := sharedobs.NewLogger(*logLevel, "text")

	data, err := os.ReadFile(*fixture)
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}
	store, err := loadStore(data)
	if err != nil {
		return fmt.Errorf("load fixture: %w", err)
	}
	logger.Info("fixture loaded", "path", *fixture, "features", store.Len())

	srv := &http.Server{
		Addr: *addr,
		Handler: newHandler(store, handlerOptions{
			DateParam:    *dateParam,
			APIKey:       *apiKey,
			DefaultLimit: *defaultLimit,
			Latency:      *latency,
		}, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck // exiting
	}()

	logger.Info("mock feature api listening", "addr", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
