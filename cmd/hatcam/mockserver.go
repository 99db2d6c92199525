package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lisuiheng/hatcam-go/logger"
	"github.com/lisuiheng/hatcam-go/mockserver"
	"github.com/lisuiheng/hatcam-go/pkg/schema"
	"github.com/spf13/cobra"
)

var mockServerFlags struct {
	listen    string
	crossTalk bool
}

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run a local stand-in for the detection service",
	Long: `mock-server accepts the per-camera WebSocket endpoints and answers
every frame with a synthetic detection_result, so the client can be run
without the real service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		labels := make(map[schema.StreamID]string, len(cfg.Streams))
		for _, s := range cfg.Streams {
			if s.Label != "" {
				labels[s.StreamID()] = s.Label
			}
		}
		mock := mockserver.New(mockserver.Options{
			Heartbeat: cfg.System.Heartbeat.Payload,
			Labels:    labels,
			CrossTalk: mockServerFlags.crossTalk,
		}, logger.Logger())

		srv := &http.Server{
			Addr:              mockServerFlags.listen,
			Handler:           mock.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, cancel := signalContext()
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Mock detection service listening", "addr", srv.Addr, "path", mockserver.DefaultPathPrefix)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		mock.DisconnectAll()
		_ = srv.Shutdown(shutdownCtx)

		st := mock.Stats()
		logger.Info("Mock detection service stopped", "frames", st.Frames, "heartbeats", st.Heartbeats, "ignored", st.Ignored)
		return nil
	},
}

func init() {
	mockServerCmd.Flags().StringVar(&mockServerFlags.listen, "listen", ":8000", "Listen address")
	mockServerCmd.Flags().BoolVar(&mockServerFlags.crossTalk, "crosstalk", false, "Also send every result to the other connected cameras")
}
