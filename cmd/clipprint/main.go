package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lee-lab-skku/dynamic-clip-software/internal/config"
	"github.com/lee-lab-skku/dynamic-clip-software/internal/engine"
	"github.com/lee-lab-skku/dynamic-clip-software/internal/frames"
	"github.com/lee-lab-skku/dynamic-clip-software/internal/layers"
	"github.com/lee-lab-skku/dynamic-clip-software/internal/lightengine"
	"github.com/lee-lab-skku/dynamic-clip-software/internal/monitor"
	"github.com/lee-lab-skku/dynamic-clip-software/internal/motion"
	"github.com/lee-lab-skku/dynamic-clip-software/internal/smc"
)

func main() {
	// ---- Flags (config.yaml can override most) ----
	var (
		mode       = flag.String("mode", "print", "mode: print | dynamic | status | park")
		configPath = flag.String("config", "clipprint.yaml", "path to clipprint.yaml")
		port       = flag.String("port", "/dev/ttyUSB0", "stage serial port")
		imageDir   = flag.String("images", "images", "directory of SEC_<n>.PNG slices")
		driver     = flag.String("driver", "serial", "stage driver: serial | sim")
		settings   = flag.String("settings", "", "per-layer settings CSV (dynamic mode)")
		addr       = flag.String("addr", ":8080", "monitor HTTP listen address")
		step       = flag.Float64("step", 0.05, "layer step size (mm)")
		darkMS     = flag.Int("dark", 500, "dark time between layers (ms)")
		exposure   = flag.Int("exposure", 30, "light phase length (frames)")
		clipMode   = flag.Bool("clip", true, "CLIP motion (no pump-down)")
		pumpingMM  = flag.Float64("pumping", 0, "pump travel before each step (mm)")
		fps        = flag.Int("fps", 30, "render frame rate")
		intensity  = flag.Int("intensity", 128, "light engine current (static mode)")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	// ---- Load clipprint.yaml (optional) ----
	cfg := config.Default()
	if c, err := config.Load(*configPath); err != nil {
		log.Warn().Err(err).Str("path", *configPath).Msg("config load failed; proceeding with flags")
		cfg.Stage.Port = *port
		cfg.ImageDir = *imageDir
		cfg.Driver = *driver
		cfg.FPS = *fps
		cfg.StepSizeMM = *step
		cfg.DarkTimeMS = *darkMS
		cfg.MaxImageDisplayCount = *exposure
		cfg.ClipMode = *clipMode
		cfg.PumpingMM = *pumpingMM
		cfg.SettingsFile = *settings
		cfg.MonitorAddr = *addr
		cfg.Light.Intensity = *intensity
	} else {
		cfg = c
		if cfg.SettingsFile == "" {
			cfg.SettingsFile = *settings
		}
		if cfg.MonitorAddr == "" {
			cfg.MonitorAddr = *addr
		}
	}

	// ---- Stage driver: serial | sim; a dead serial port is fatal ----
	selected := cfg.Driver
	var client *smc.Client
	switch selected {
	case "serial":
		c, err := smc.Open(cfg.Stage.Port)
		if err != nil {
			log.Fatal().Err(err).
				Str("driver", "serial").
				Str("port", cfg.Stage.Port).
				Msg("serial open failed")
		}
		client = c
	case "sim":
		client = smc.NewClient(smc.NewSimPort())
	default:
		log.Warn().Str("driver", selected).Msg("unknown driver; using SIM")
		client = smc.NewClient(smc.NewSimPort())
		selected = "sim"
	}

	mover := motion.New(client)

	// ---- Short, run-less modes ----
	switch *mode {
	case "status":
		runStatus(client, mover)
		return
	case "park":
		runPark(client, mover, cfg)
		return
	}

	// ---- Monitor ----
	state := monitor.NewState(cfg.Stage.Port, cfg.ImageDir, selected)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/logs", state.HandleLogWS)
	mux.HandleFunc("/ws/progress", state.HandleProgressWS)
	mux.HandleFunc("/health", state.HandleHealth)
	srv := &http.Server{
		Addr:         cfg.MonitorAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.MonitorAddr).Str("driver", selected).Msg("monitor HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("monitor server crashed")
		}
	}()
	defer srv.Close()

	// ---- Light engine ----
	light := lightengine.NewSim()
	warmCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	warmTimeout := time.Duration(cfg.Light.WarmUpTimeout) * time.Second
	if warmTimeout == 0 {
		warmTimeout = 600 * time.Second
	}
	if err := lightengine.WarmUp(warmCtx, light, warmTimeout); err != nil {
		log.Fatal().Err(err).Msg("light engine warm-up failed")
	}
	if err := light.SetCurrent(uint8(cfg.Light.Intensity)); err != nil {
		log.Fatal().Err(err).Msg("failed to set light engine current")
	}

	// ---- Engine ----
	eng := engine.New(client, mover, light, frames.NewSimDisplay(),
		engine.WithLogSink(func(line string) {
			log.Info().Msg(line)
			state.AppendLog(line)
		}),
		engine.WithProgress(state.SetProgress),
	)

	// SIGINT/SIGTERM request a graceful abort; the run finishes the
	// current frame, joins any move, homes and closes.
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-ch
		log.Info().Str("signal", s.String()).Msg("abort requested")
		eng.Abort()
	}()

	ecfg := engine.Config{
		ImageDir:              cfg.ImageDir,
		StepSizeMM:            cfg.StepSizeMM,
		DarkTimeMS:            cfg.DarkTimeMS,
		MaxImageDisplayCount:  cfg.MaxImageDisplayCount,
		InitialExposureFrames: cfg.InitialExposureFrames,
		InitialLayers:         cfg.InitialLayers,
		ClipMode:              cfg.ClipMode,
		PumpingMM:             cfg.PumpingMM,
		FPS:                   cfg.FPS,
		SettleDelay:           time.Duration(cfg.Light.SettleDelaySec) * time.Second,
	}

	var err error
	switch *mode {
	case "print":
		err = eng.Run(context.Background(), ecfg)
	case "dynamic":
		if cfg.SettingsFile == "" {
			log.Fatal().Msg("dynamic mode requires -settings")
		}
		var list layers.List
		list, err = layers.ReadFile(cfg.SettingsFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.SettingsFile).Msg("failed to read settings")
		}
		log.Info().Int("entries", len(list)).Int("layers", list.TotalLayers()).Msg("settings loaded")
		err = eng.RunDynamic(context.Background(), ecfg, list)
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown mode")
	}

	log.Info().Int64("move_retries", mover.Retries()).Msg("run complete")

	switch {
	case err == nil:
		log.Info().Msg("run finished")
	case errors.Is(err, engine.ErrAborted):
		log.Warn().Msg("run aborted")
		os.Exit(2)
	default:
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

// runStatus prints a one-shot stage snapshot.
func runStatus(client *smc.Client, mover *motion.Synchronizer) {
	defer client.Close()

	status, err := client.GetCurrentStatus()
	if err != nil {
		log.Fatal().Err(err).Msg("status query failed")
	}
	snap, err := mover.Status()
	if err != nil {
		log.Fatal().Err(err).Msg("stage snapshot failed")
	}
	fmt.Printf("state:        %s\n", status)
	fmt.Printf("position:     %.2f mm\n", snap.Position)
	fmt.Printf("velocity:     %.1f mm/s\n", snap.Velocity)
	fmt.Printf("acceleration: %.0f mm/s^2\n", snap.Acceleration)
	fmt.Printf("limits:       %.0f .. %.0f mm\n", snap.NegativeLimit, snap.PositiveLimit)
}

// runPark retracts the stage and returns it to zero at park velocity.
func runPark(client *smc.Client, mover *motion.Synchronizer, cfg *config.Config) {
	defer client.Close()

	timeout := time.Duration(cfg.Stage.HomeTimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()

	mover.Park(ctx, cfg.Stage.ParkVelocity, timeout)
	log.Info().Msg("stage parked")
}
