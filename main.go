package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/perchcam/perchcam/internal/archive"
	"github.com/perchcam/perchcam/internal/camera"
	"github.com/perchcam/perchcam/internal/config"
	"github.com/perchcam/perchcam/internal/device"
	"github.com/perchcam/perchcam/internal/encoder"
	"github.com/perchcam/perchcam/internal/events"
	"github.com/perchcam/perchcam/internal/logger"
	"github.com/perchcam/perchcam/internal/service"
	"github.com/perchcam/perchcam/internal/similarity"
	"github.com/perchcam/perchcam/internal/suntimes"
	"github.com/perchcam/perchcam/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Optional; a missing .env is not an error.
	godotenv.Load()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "perchcam: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	bootLog, err := logger.New(logger.Config{Level: "info", Format: "text", Output: "stdout"})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	cfgService, err := config.NewService(configPath, bootLog)
	if err != nil {
		return err
	}
	cfg := cfgService.Get()

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	ffmpeg, err := device.NewFFmpeg(log)
	if err != nil {
		return fmt.Errorf("ffmpeg not available: %w", err)
	}

	store, err := archive.NewStore(cfg.DataDir, log)
	if err != nil {
		return err
	}
	defer store.Close()

	enc, err := encoder.NewFFmpegEncoder(ffmpeg, cfg.Encoder.OutputDir, cfg.Encoder.Framerate, log)
	if err != nil {
		return err
	}

	sun, err := suntimes.FromConfig(cfg.Location)
	if err != nil {
		return err
	}

	var publisher camera.Publisher = events.NopPublisher{}
	var transmitter *events.Transmitter
	if cfg.MQTT.Enabled {
		transmitter = events.NewTransmitter(cfg.MQTT, log)
		publisher = transmitter
	}

	deps := camera.Deps{
		FFmpeg:     ffmpeg,
		Store:      store,
		Encoder:    enc,
		Sun:        sun,
		Comparator: similarity.NewComparator(log),
		Publisher:  publisher,
		Priority:   &camera.PriorityToken{},
	}
	cameras := camera.NewManager(cfgService, deps, log)

	manager := service.NewManager(log)
	if transmitter != nil {
		manager.Register(transmitter)
	}
	manager.Register(cameras)
	manager.Register(archive.NewRetention(store, cfg.Encoder.OutputDir, cfg.RetentionDays, log))
	if cfg.Web.Enabled {
		manager.Register(web.NewServer(cfg.Web, cameras, cfgService, store, log))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		return err
	}
	log.Info("perchcam started", "cameras", len(cfg.Cameras), "web", cfg.Web.Enabled,
		"mqtt", cfg.MQTT.Enabled)

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigC {
		if sig == syscall.SIGHUP {
			log.Info("Reloading configuration on SIGHUP")
			if err := cfgService.Reload(ctx); err != nil {
				log.Error("Configuration reload failed", "error", err)
			}
			continue
		}
		log.Info("Shutting down", "signal", sig.String())
		manager.StopAll(ctx)
		return nil
	}
	return nil
}
