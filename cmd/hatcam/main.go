package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lisuiheng/hatcam-go/core"
	"github.com/lisuiheng/hatcam-go/logger"
	"github.com/lisuiheng/hatcam-go/pkg/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath string
	cameras    int
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "hatcam",
	Short: "Safety helmet detection streaming client",
	Long: `hatcam streams camera frames to the detection service over one
WebSocket per camera and prints the detection results it sends back.

Connections are re-established after failures and kept alive with heartbeats.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/hatcam/config.yaml)")
	rootCmd.PersistentFlags().IntVar(&cameras, "cameras", 1, "Number of synthetic cameras (CAM001...) used when the config lists no streams")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log at debug level to stdout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(mockServerCmd)
	rootCmd.AddCommand(statsCmd)
}

// loadConfig 加载配置文件，未指定路径且找不到文件时使用默认配置
func loadConfig(path string) (core.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HATCAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		// 使用命令行指定的路径
		v.SetConfigFile(path)
	} else {
		// 默认多路径搜索
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/hatcam")
	}

	cfg := core.DefaultConfig()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return core.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return core.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Streams) == 0 {
		for i := 1; i <= cameras; i++ {
			cfg.Streams = append(cfg.Streams, core.StreamConfig{
				ID:     string(schema.FormatCameraID(i)),
				Source: core.SourceConfig{Type: core.SourcePattern},
			})
		}
	}
	return cfg, nil
}

// initLogger 初始化日志系统
func initLogger(cfg core.Config) error {
	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: cfg.Logging.Outputs,
		Rotation: logger.Rotation{
			MaxSizeMB:  cfg.Logging.Rotation.MaxSizeMB,
			MaxBackups: cfg.Logging.Rotation.MaxBackups,
			MaxAgeDays: cfg.Logging.Rotation.MaxAgeDays,
			Compress:   cfg.Logging.Rotation.Compress,
		},
	}

	// 调试模式覆盖配置
	if debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}

	if err := logger.Init(logCfg); err != nil {
		return err
	}
	logger.Debug("Logger initialized", "level", logCfg.Level, "format", logCfg.Format)
	return nil
}

func setup() (core.Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return core.Config{}, err
	}
	if err := initLogger(cfg); err != nil {
		return core.Config{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
