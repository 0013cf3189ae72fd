package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BotClient communicates with the chat bot internal API.
type BotClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewBotClient(baseURL string, log *zap.Logger) *BotClient {
	return &BotClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type SessionMessage struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Payload map[string]any `json:"payload"`
}

// PostToSession delivers a deal event to the chat session it belongs to.
func (c *BotClient) PostToSession(ctx context.Context, sessionID string, msg SessionMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/internal/sessions/%s/messages", c.baseURL, url.PathEscape(sessionID))
	return c.post(ctx, endpoint, body)
}

// CloseSession asks the bot to tear down the chat session.
func (c *BotClient) CloseSession(ctx context.Context, sessionID, reason string) error {
	body, _ := json.Marshal(map[string]any{"reason": reason})
	endpoint := fmt.Sprintf("%s/internal/sessions/%s/close", c.baseURL, url.PathEscape(sessionID))
	return c.post(ctx, endpoint, body)
}

func (c *BotClient) SendNotification(ctx context.Context, telegramUserID int64, text string) error {
	body, _ := json.Marshal(map[string]any{
		"telegram_user_id": telegramUserID,
		"text":             text,
	})
	if err := c.post(ctx, c.baseURL+"/internal/notify", body); err != nil {
		c.log.Warn("failed to send bot notification", zap.Int64("telegram_user_id", telegramUserID), zap.Error(err))
		return err
	}
	return nil
}

func (c *BotClient) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: bot service unavailable: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: bot service returned %d: %s", ErrTransport, resp.StatusCode, string(b))
	}
	return nil
}
