package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lisuiheng/hatcam-go/core"
	"github.com/lisuiheng/hatcam-go/logger"
	"github.com/lisuiheng/hatcam-go/metrics"
	"github.com/lisuiheng/hatcam-go/pkg/schema"
	"github.com/lisuiheng/hatcam-go/publish"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect every configured camera and stream frames for detection",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		return runClient(cfg)
	},
}

func runClient(cfg core.Config) error {
	log := logger.Logger()
	defer log.Info("Shutting down hatcam")

	var opts []core.ClientOption

	if cfg.Metrics.Enabled {
		m := metrics.New()
		opts = append(opts, core.WithMetrics(m))
		srv := startMetricsServer(cfg.Metrics.Listen, m)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	if r := cfg.Publish.Redis; r.Enabled {
		pub, err := publish.NewRedisPublisher(publish.RedisConfig{
			Addr:          r.Addr,
			Password:      r.Password,
			DB:            r.DB,
			ChannelPrefix: r.ChannelPrefix,
			Timeout:       r.Timeout,
		}, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Close(); err != nil {
				log.Warn("Failed to close redis publisher", "error", err)
			}
		}()
		h := pub.Handler()
		opts = append(opts, core.WithResultHandler(func(_ core.Stream, res schema.DetectionResult) { h(res) }))
		log.Info("Publishing results to redis", "addr", r.Addr, "channel_prefix", r.ChannelPrefix)
	}

	// 创建应用客户端
	client, err := core.NewClient(cfg, log, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	ctx, cancel := signalContext()
	defer cancel()

	// 启动主服务
	done := make(chan error, 1)
	go func() {
		log.Info("Starting hatcam service")
		done <- client.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Error("Service runtime error", "error", err)
			return err
		}
	case <-ctx.Done():
		if err := <-done; err != nil {
			return err
		}
	}
	log.Info("Service shutdown completed")
	return nil
}

func startMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}
