package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/xrecorder/internal/announce"
	"github.com/RenatoCabral2022/xrecorder/internal/api"
	"github.com/RenatoCabral2022/xrecorder/internal/capture"
	"github.com/RenatoCabral2022/xrecorder/internal/command"
	"github.com/RenatoCabral2022/xrecorder/internal/config"
	"github.com/RenatoCabral2022/xrecorder/internal/display"
	"github.com/RenatoCabral2022/xrecorder/internal/encoder"
	"github.com/RenatoCabral2022/xrecorder/internal/grant"
	"github.com/RenatoCabral2022/xrecorder/internal/mainloop"
	"github.com/RenatoCabral2022/xrecorder/internal/mediastore"
	"github.com/RenatoCabral2022/xrecorder/internal/session"
)

// The main loop owns the main OS thread.
func init() { runtime.LockOSThread() }

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	logger.Info("xrecorderd starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("backend", cfg.CaptureBackend),
		zap.String("mediaRoot", cfg.MediaRoot),
		zap.Bool("audio", cfg.AudioFormat != ""),
	)

	ctx := context.Background()
	store, err := mediastore.Open(ctx, cfg.MediaRoot, cfg.DBPath)
	if err != nil {
		logger.Fatal("open media store", zap.Error(err))
	}
	defer store.Close()

	var projections grant.ProjectionFactory
	switch cfg.CaptureBackend {
	case config.BackendPattern:
		projections = capture.PatternFactory(encoder.FrameRate, logger)
	default:
		projections = capture.X11Factory(capture.X11Options{
			FFmpegPath: cfg.FFmpegPath,
			Display:    cfg.X11Display,
			FrameRate:  encoder.FrameRate,
			DrawMouse:  cfg.DrawMouse,
		}, logger)
	}
	broker := grant.NewBroker(projections, logger)

	loop := mainloop.New()
	ann := announce.New(logger)

	slots := session.SlotStoreFunc(func(ctx context.Context, name, mime string) (session.OutputSlot, error) {
		slot, err := store.Insert(ctx, cfg.MediaFolder, name, mime)
		if err != nil {
			return nil, err
		}
		return slot, nil
	})
	encOpts := encoder.Options{
		FFmpegPath:  cfg.FFmpegPath,
		VideoCodec:  cfg.VideoCodec,
		AudioCodec:  cfg.AudioCodec,
		AudioFormat: cfg.AudioFormat,
		AudioInput:  cfg.AudioInput,
	}
	newEncoder := func() session.Encoder {
		return encoder.NewFFmpeg(encOpts, logger.Named("encoder"))
	}
	ctrl := session.NewController(loop, slots, newEncoder, ann, logger.Named("session"))
	ann.SetStopAction(func() { ctrl.Stop() })

	probe := display.XDisplayInfo{Display: cfg.X11Display}
	geometry := func(ctx context.Context) display.Geometry {
		if cfg.CaptureBackend == config.BackendPattern {
			return cfg.Fallback
		}
		return display.Resolve(ctx, probe, cfg.Fallback)
	}
	commands := command.NewRouter(logger)
	command.RegisterRecorder(commands, broker, ctrl, geometry, logger)

	h := &api.Handlers{
		Grants:        broker,
		Recordings:    store,
		Recorder:      ctrl,
		Commands:      commands,
		Announcements: ann,
		Logger:        logger,
	}
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewRouter(h, api.RouterOptions{APIToken: cfg.APIToken}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	go func() {
		logger.Info("API listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API failed", zap.Error(err))
		}
	}()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Warn("API shutdown", zap.Error(err))
		}
		if err := ctrl.Shutdown(shutCtx); err != nil {
			logger.Warn("session shutdown", zap.Error(err))
		}
		loop.Close()
	}()

	loop.Run(context.Background())
	logger.Info("stopped")
}
