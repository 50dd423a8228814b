package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"netguard/internal/alert"
	"netguard/internal/capture"
	"netguard/internal/model"
	"netguard/internal/policy"
	"netguard/internal/scorer"

	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"
)

// alertEventTypes are the events worth paging someone about.
var alertEventTypes = []model.EventType{
	model.EventAnomaly,
	model.EventFatal,
	model.EventConnectionExhausted,
	model.EventPolicyApplied,
}

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List interfaces the capture tool can listen on",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		adapter := capture.NewAdapter(config.Capture, model.NopEmitter{}, logger)
		ifaces, err := adapter.ListInterfaces(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range ifaces {
			fmt.Println(name)
		}
		return nil
	},
}

var trainEpochs int

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run one training round on the scoring service",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		epochs := config.Scorer.Epochs
		if cmd.Flags().Changed("epochs") {
			epochs = trainEpochs
		}

		dispatcher := alert.NewDispatcher(alert.DefaultBufferSize, logger)
		dispatcher.RegisterNotifier(alert.NewLogAlertNotifier(logger))
		ctx, cancel := context.WithCancel(cmd.Context())
		go dispatcher.Run(ctx)
		defer func() {
			cancel()
			dispatcher.Wait()
		}()

		scoringClient := scorer.NewClient(config.ScorerClientConfig(), dispatcher, logger)
		if err := scoringClient.Initialize(ctx); err != nil {
			return err
		}
		result, err := scoringClient.Train(ctx, epochs)
		if err != nil {
			return err
		}
		fmt.Printf("Training %s: %d samples, %d epochs\n", result.Status, result.SamplesTrained, result.Epochs)
		return nil
	},
}

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List policies recorded as applied to the device",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		store, err := policy.OpenStore(config.Policies.StorePath)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tRULES\tENABLED\tNAME")
		for _, p := range store.List() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n", p.ID, p.Kind, len(p.Rules), p.Enabled, p.Name)
		}
		return w.Flush()
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Check alert channels",
}

var alertsTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test message to the Telegram channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		tg := config.Alerting.Telegram
		notifier := alert.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.ParseMode, tg.Enabled, tg.MessageTemplate, logger)
		if err := notifier.SendTestMessage(); err != nil {
			return err
		}
		fmt.Println("Test message sent")
		return nil
	},
}

var historyLimit int64

var alertsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recent anomalies recorded in Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !config.Alerting.Channels.Redis {
			return errors.New("redis channel is not enabled in config")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		notifier, err := alert.NewRedisNotifier(ctx, config.Alerting.Redis, logger)
		if err != nil {
			return err
		}
		defer notifier.Close()

		events, err := notifier.RecentAnomalies(ctx, historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSOURCE\tLABEL\tCONFIDENCE\tRESPONSE")
		for _, e := range events {
			if e.Anomaly == nil {
				continue
			}
			a := e.Anomaly
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n",
				e.Timestamp.Format(time.RFC3339), a.Packet.Source, a.Label, a.Confidence, a.Response)
		}
		return w.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Print("netguard"))
	},
}

func init() {
	alertsHistoryCmd.Flags().Int64Var(&historyLimit, "limit", 20, "Number of anomalies to print")
	alertsCmd.AddCommand(alertsTestCmd, alertsHistoryCmd)

	trainCmd.Flags().IntVar(&trainEpochs, "epochs", scorer.DefaultEpochs, "Training epochs (overrides config)")
}
