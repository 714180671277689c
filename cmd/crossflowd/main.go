package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/crossflow-data/crossflow/internal/api"
	"github.com/crossflow-data/crossflow/internal/config"
	"github.com/crossflow-data/crossflow/internal/store"
	"github.com/crossflow-data/crossflow/internal/traffic"
	"github.com/crossflow-data/crossflow/internal/version"
)

var (
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	configPath = flag.String("config", "", "Path to JSON config file")
	tracePath  = flag.String("trace", "", "Path to a lane-count trace file (built-in sample when empty)")
	dbPath     = flag.String("db", "", "Path to the signal history database (overrides config)")
	noStore    = flag.Bool("no-store", false, "Disable persistent signal history")
)

// sampleTrace is the built-in detection trace used when no -trace file is
// given: a short rush on the south lane, then the east lane taking over.
var sampleTrace = []traffic.LaneCounts{
	{Counts: [traffic.NumLanes]int{2, 8, 3, 1}},
	{Counts: [traffic.NumLanes]int{3, 11, 4, 2}},
	{Counts: [traffic.NumLanes]int{2, 14, 5, 1}},
	{Counts: [traffic.NumLanes]int{4, 12, 9, 2}},
	{Counts: [traffic.NumLanes]int{3, 7, 13, 3}},
	{Counts: [traffic.NumLanes]int{2, 5, 16, 2}},
	{Counts: [traffic.NumLanes]int{3, 4, 12, 4}},
	{Counts: [traffic.NumLanes]int{2, 6, 8, 3}},
}

func main() {
	flag.Parse()

	log.Printf("crossflowd %s", version.String())

	cfg := config.Empty()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	addr := cfg.GetListen()
	if *listen != "" {
		addr = *listen
	}

	thresholds := traffic.Thresholds{
		Low:      cfg.GetLowCongestion(),
		Medium:   cfg.GetMediumCongestion(),
		High:     cfg.GetHighCongestion(),
		Critical: cfg.GetCriticalCongestion(),
	}
	timing := traffic.GreenTiming{
		MinGreen: cfg.GetMinGreenTime(),
		MaxGreen: cfg.GetMaxGreenTime(),
	}

	var st *store.Store
	if !*noStore {
		path := cfg.GetDBPath()
		if *dbPath != "" {
			path = *dbPath
		}
		var err error
		st, err = store.Open(path)
		if err != nil {
			log.Fatalf("failed to open signal history database: %v", err)
		}
		defer st.Close()
		log.Printf("signal history at %s", path)
	}

	ctrlCfg := traffic.ControllerConfig{
		ClearanceHold:        cfg.GetClearanceHold(),
		MaxConsecutiveGrants: cfg.GetMaxConsecutiveGrants(),
	}
	if st != nil {
		ctrlCfg.Recorder = st
	}
	ctrl := traffic.NewController(ctrlCfg)

	var source traffic.CountSource
	if *tracePath != "" {
		s, err := traffic.LoadReplaySource(*tracePath, cfg.GetFrameSkip())
		if err != nil {
			log.Fatalf("failed to load trace %s: %v", *tracePath, err)
		}
		source = s
		log.Printf("replaying lane counts from %s", *tracePath)
	} else {
		s, err := traffic.NewReplaySource(sampleTrace, cfg.GetFrameSkip())
		if err != nil {
			log.Fatalf("failed to build sample source: %v", err)
		}
		source = s
		log.Print("no trace file given, replaying built-in sample counts")
	}
	defer source.Close()

	loop := traffic.NewLoop(traffic.LoopConfig{
		Source:     source,
		Controller: ctrl,
		Interval:   cfg.GetCycleInterval(),
		WindowSize: cfg.GetWindowSize(),
		Thresholds: thresholds,
		Timing:     timing,
	})

	advisor := traffic.NewCooldownAdvisor(nil, traffic.NewRuleAdvisor(thresholds), cfg.GetAdvisorCooldown())
	engine := traffic.NewEngine(ctrl, thresholds, timing)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// control loop goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("control loop stopped: %v", err)
		}
		log.Print("control loop terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(loop, ctrl, engine, advisor, st, thresholds).ServeMux()

		server := &http.Server{
			Addr:    addr,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	// The loop may have been restarted via the API after the signal
	// handler's context was cancelled; stop it explicitly.
	loop.Stop()
	log.Printf("graceful shutdown complete")
}
