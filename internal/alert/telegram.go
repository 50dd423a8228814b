package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"netguard/internal/model"

	"github.com/sirupsen/logrus"
)

const telegramAPIBase = "https://api.telegram.org"

type TelegramNotifier struct {
	botToken        string
	chatID          string
	parseMode       string
	enabled         bool
	apiBase         string
	maxRetries      int
	retryDelay      time.Duration
	messageTemplate *template.Template
	client          *http.Client
	logger          *logrus.Logger
}

type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type TelegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

func NewTelegramNotifier(botToken, chatID, parseMode string, enabled bool, messageTemplate string, logger *logrus.Logger) *TelegramNotifier {
	tn := &TelegramNotifier{
		botToken:   botToken,
		chatID:     chatID,
		parseMode:  parseMode,
		enabled:    enabled,
		apiBase:    telegramAPIBase,
		maxRetries: 3,
		retryDelay: time.Second,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}

	if strings.TrimSpace(messageTemplate) != "" {
		funcMap := template.FuncMap{
			"formatTime": func(t time.Time, layout string) string {
				return t.Format(layout)
			},
		}
		tmpl, err := template.New("telegram_message").Funcs(funcMap).Parse(messageTemplate)
		if err != nil {
			logger.Warnf("Failed to parse Telegram message template: %v, using default format", err)
		} else {
			tn.messageTemplate = tmpl
		}
	}

	return tn
}

func (tn *TelegramNotifier) Name() string { return "telegram" }

func (tn *TelegramNotifier) SendEvent(event model.Event) error {
	if !tn.enabled {
		tn.logger.Debug("Telegram notifier is disabled, skipping event")
		return nil
	}

	message := tn.formatMessage(event)

	for i := 0; i < tn.maxRetries; i++ {
		err := tn.sendMessage(message)
		if err == nil {
			return nil
		}

		tn.logger.Warnf("Failed to send Telegram message (attempt %d/%d): %v", i+1, tn.maxRetries, err)

		if i < tn.maxRetries-1 {
			time.Sleep(time.Duration(i+1) * tn.retryDelay)
		}
	}

	return fmt.Errorf("failed to send Telegram message after %d attempts", tn.maxRetries)
}

func (tn *TelegramNotifier) formatMessage(event model.Event) string {
	if tn.messageTemplate != nil {
		var buf bytes.Buffer
		if err := tn.messageTemplate.Execute(&buf, event); err != nil {
			tn.logger.Warnf("Failed to execute message template: %v, using default format", err)
		} else {
			return buf.String()
		}
	}

	timestamp := event.Timestamp.Format("2006-01-02 15:04:05")

	if a := event.Anomaly; a != nil {
		port := "-"
		if a.Packet.Ports != nil {
			port = fmt.Sprintf("%d", a.Packet.Ports.Destination)
		}
		return fmt.Sprintf("ALERT FIRING: Network Anomaly\n\n"+
			"type: %s\n"+
			"time: %s\n"+
			"source: %s\n"+
			"destination: %s:%s\n"+
			"confidence: %.2f\n"+
			"response: %s",
			a.Label,
			timestamp,
			a.Packet.Source,
			a.Packet.Destination, port,
			a.Confidence,
			a.Response)
	}

	message := fmt.Sprintf("NETGUARD: %s\n\ntime: %s\nsource: %s\nmessage: %s",
		event.Type, timestamp, event.Source, event.Message)
	if event.Error != "" {
		message += "\nerror: " + event.Error
	}
	return message
}

func (tn *TelegramNotifier) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tn.apiBase, tn.botToken)

	// Markdown modes choke on addresses and underscores in labels.
	parseMode := ""
	if tn.parseMode != "" && tn.parseMode != "Markdown" && tn.parseMode != "MarkdownV2" {
		parseMode = tn.parseMode
	}

	message := TelegramMessage{
		ChatID:    tn.chatID,
		Text:      text,
		ParseMode: parseMode,
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var telegramResp TelegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&telegramResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if !telegramResp.OK {
		return fmt.Errorf("telegram API error: %s", telegramResp.Description)
	}

	tn.logger.Debug("Event sent to Telegram")
	return nil
}

func (tn *TelegramNotifier) SendTestMessage() error {
	if !tn.enabled {
		return fmt.Errorf("telegram notifier is disabled")
	}
	return tn.sendMessage("Test Message\n\nnetguard is working correctly!")
}

func (tn *TelegramNotifier) IsEnabled() bool {
	return tn.enabled
}
