// Command raceserver runs the Race Runtime's WebSocket front door, wiring
// together the Race State Store, the Race Protocol Engine, the wind index,
// and the finish-path recorder described in spec §2-§4 — the composition
// root, grounded on the teacher's main.go (object construction, signal
// handling, HTTP listener).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sailrace/internal/config"
	"sailrace/internal/logging"
	"sailrace/internal/objectstore"
	"sailrace/internal/race"
	"sailrace/internal/raceresults"
	"sailrace/internal/windindex"
	"sailrace/internal/wsserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s3Client, err := objectstore.NewClient(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("raceserver: build s3 client")
	}
	pathsStore := objectstore.NewS3Store(s3Client, cfg.PathsBucket)

	windex, err := windindex.Open(cfg.WindIndexPath)
	if err != nil {
		log.Fatal().Err(err).Msg("raceserver: open wind index")
	}
	defer windex.Close()

	recorder, err := raceresults.Open(cfg.ResultsIndexPath, pathsStore)
	if err != nil {
		log.Fatal().Err(err).Msg("raceserver: open results recorder")
	}
	defer recorder.Close()

	courses := race.SeedCourses()
	store := race.NewStore(log)
	engine := race.NewEngine(store, courses, windex, recorder, log)

	go store.RunSweeper(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsserver.NewHandler(engine, log))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("raceserver: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("raceserver: listen")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("raceserver: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("raceserver: shutdown")
	}
	cancel()
}
