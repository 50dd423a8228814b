package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netguard/internal/alert"
	"netguard/internal/api"
	"netguard/internal/capture"
	"netguard/internal/client"
	"netguard/internal/pipeline"
	"netguard/internal/policy"
	"netguard/internal/scorer"
	"netguard/internal/storage"
	"netguard/internal/utils"

	"github.com/prometheus/common/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownGrace = 10 * time.Second

var (
	configFile    string
	interfaceFlag string
	filterFlag    string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:          "netguard",
	Short:        "Network threat monitor",
	Long:         `netguard captures traffic, scores packets against an anomaly model and pushes block or rate-limit policies to a network device.`,
	RunE:         runPipeline,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/netguard.yaml", "Configuration file path (YAML)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	rootCmd.Flags().StringVarP(&interfaceFlag, "interface", "i", "", "Capture interface (overrides config)")
	rootCmd.Flags().StringVarP(&filterFlag, "filter", "f", "", "Capture filter expression (overrides config)")

	rootCmd.AddCommand(interfacesCmd, trainCmd, policiesCmd, alertsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist, and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*utils.Config, *logrus.Logger, error) {
	config, err := utils.LoadConfig(configFile)
	missing := errors.Is(err, fs.ErrNotExist)
	switch {
	case missing:
		config = utils.GetDefaultConfig()
	case err != nil:
		return nil, nil, err
	}

	if cmd.Flags().Changed("interface") {
		config.Application.Interface = interfaceFlag
	}
	if cmd.Flags().Changed("filter") {
		config.Application.Filter = filterFlag
	}
	if verbose {
		config.Logging.Level = "DEBUG"
	}

	logger := utils.NewLogger(config.Logging.Level, config.Logging.Format)
	if missing {
		logger.Warnf("Config file %s not found, using default configuration", configFile)
	} else {
		logger.Infof("Loaded configuration from %s", configFile)
	}
	return config, logger, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	config, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger.Infof("Starting netguard %s", version.Info())
	logger.Infof("Capture interface: %s, scoring service: %s, device: %s:%d",
		config.Application.Interface, config.Scorer.URL, config.Device.Host, config.Device.Port)

	metrics := client.NewPrometheusMetrics()
	registry, err := alert.CreateCustomRegistry(metrics)
	if err != nil {
		return fmt.Errorf("failed to create metrics registry: %w", err)
	}

	dispatcher := alert.NewDispatcher(config.Alerting.BufferSize, logger)
	dispatcher.SetMetrics(metrics)

	history := storage.NewStorage(config.History.MaxPackets, config.History.MaxAnomalies, logger)
	dispatcher.RegisterNotifier(history)

	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	defer dispatchCancel()

	closeNotifiers := registerAlertNotifiers(dispatchCtx, dispatcher, config, logger)
	defer closeNotifiers()

	go dispatcher.Run(dispatchCtx)

	captureAdapter := capture.NewAdapter(config.Capture, dispatcher, logger)
	captureAdapter.SetMetrics(metrics)
	if err := captureAdapter.Initialize(); err != nil {
		return err
	}

	scoringClient := scorer.NewClient(config.ScorerClientConfig(), dispatcher, logger)
	scoringClient.SetMetrics(metrics)

	policyStore, err := policy.OpenStore(config.Policies.StorePath)
	if err != nil {
		return err
	}
	device := policy.NewManager(config.Device, policyStore, dispatcher, logger)
	device.SetMetrics(metrics)

	orchestrator, err := pipeline.NewOrchestrator(config.PipelineConfig(), captureAdapter, scoringClient, device, dispatcher, logger)
	if err != nil {
		return err
	}
	orchestrator.SetMetrics(metrics)
	orchestrator.SetPacketRecorder(history)

	ruleEngine, err := buildRuleEngine(config.Rules, config.Application.RulesFile, logger)
	if err != nil {
		return err
	}
	if ruleEngine.Len() > 0 {
		ruleEngine.SetMetrics(metrics)
		orchestrator.SetRules(ruleEngine)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	metricsHandler := alert.MetricsHandler(registry)
	if port := config.Application.MetricsPort; port != "" && port != config.Application.APIPort {
		exporter := alert.NewPrometheusExporter(port, registry, logger)
		go func() {
			if err := exporter.Start(ctx); err != nil {
				logger.Errorf("Prometheus exporter error: %v", err)
			}
		}()
		metricsHandler = nil
	}

	handlers := api.NewHandlers(orchestrator, history, captureAdapter, logger)
	if config.Prometheus.URL != "" {
		promClient, err := client.NewPrometheusClient(config.Prometheus.URL, config.Prometheus.Timeout)
		if err != nil {
			logger.Warnf("Metric history disabled: %v", err)
		} else {
			handlers.SetMetricsQuerier(promClient)
			logger.Infof("Prometheus client connected to %s", promClient.URL())
		}
	}
	server := api.NewServer(config.Application.APIPort, api.NewRouter(handlers, metricsHandler), logger)
	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Errorf("API server error: %v", err)
			cancel()
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, config.Scorer.Timeout)
	err = orchestrator.Start(startCtx)
	startCancel()
	if err != nil {
		logger.Errorf("Pipeline failed to start: %v", err)
		cancel()
	} else {
		select {
		case <-ctx.Done():
		case <-orchestrator.Halted():
			err = pipeline.ErrHalted
			cancel()
		}
	}

	if stopErr := orchestrator.Stop(); stopErr != nil {
		logger.Errorf("Pipeline stop: %v", stopErr)
	}

	flushed := make(chan struct{})
	go func() {
		scoringClient.Flush()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(shutdownGrace):
		logger.Warn("Timed out waiting for pending training uploads")
	}

	dispatchCancel()
	dispatcher.Wait()
	return err
}

// registerAlertNotifiers attaches the configured channels and returns a
// func that releases their connections.
func registerAlertNotifiers(ctx context.Context, dispatcher *alert.Dispatcher, config *utils.Config, logger *logrus.Logger) func() {
	cleanup := func() {}
	if !config.Alerting.Enabled {
		return cleanup
	}

	if config.Alerting.Channels.Log {
		dispatcher.RegisterNotifier(alert.NewLogAlertNotifier(logger))
	}

	if config.Alerting.Channels.Telegram && config.Alerting.Telegram.Enabled {
		telegramNotifier := alert.NewTelegramNotifier(
			config.Alerting.Telegram.BotToken,
			config.Alerting.Telegram.ChatID,
			config.Alerting.Telegram.ParseMode,
			config.Alerting.Telegram.Enabled,
			config.Alerting.Telegram.MessageTemplate,
			logger,
		)
		dispatcher.RegisterNotifier(telegramNotifier, alertEventTypes...)
	}

	if config.Alerting.Channels.Redis {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		redisNotifier, err := alert.NewRedisNotifier(pingCtx, config.Alerting.Redis, logger)
		cancel()
		if err != nil {
			logger.Warnf("Redis notifier disabled: %v", err)
		} else {
			dispatcher.RegisterNotifier(redisNotifier)
			cleanup = func() {
				if err := redisNotifier.Close(); err != nil {
					logger.Debugf("Closing redis notifier: %v", err)
				}
			}
		}
	}

	return cleanup
}
