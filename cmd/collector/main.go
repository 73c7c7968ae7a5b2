package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"liuproxy_collector/internal/app"
	"liuproxy_collector/internal/shared/config"
	"liuproxy_collector/internal/shared/logger"
)

const (
	Version = "0.1.0"
	appName = "collector"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Collect proxy config links from Telegram channels",
		Long: `Collector scrapes public Telegram channel previews for proxy config links
(vless://, vmess://, ss://, trojan:// ...), deduplicates them, groups them by
server region and writes one file per region plus a combined file. Region
files are then uploaded to a Telegram channel.

Runs a single pass and exits.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, envFile, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.json", "Config file path (.json, .yaml or .ini)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Env file with TELEGRAM_TOKEN and CHANNEL_ID")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func run(parent context.Context, configPath, envFile, logLevel string) error {
	// 1. 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config file '%s': %w", configPath, err)
	}
	if logLevel != "" {
		cfg.LogConf.Level = logLevel
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// 2. 读取密钥, 必须在任何网络请求之前完成
	if err := config.LoadSecrets(cfg, envFile); err != nil {
		logger.Error().Err(err).Msg("Failed to load secrets.")
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. 创建并运行
	a, err := app.New(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize collector.")
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release resources.")
		}
	}()

	report, err := a.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn().Msg("Interrupted, run aborted.")
		} else {
			logger.Error().Err(err).Msg("Collector run failed.")
		}
		return err
	}

	logger.Info().
		Str("run_id", report.RunID).
		Int("unique", report.Unique).
		Int("published", len(report.Published)).
		Msgf("Run finished in %s.", report.Duration.Round(time.Millisecond))
	return nil
}
