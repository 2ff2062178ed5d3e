// Package telegram delivers outgoing chat messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

var ErrEmptyCredential = errors.New("empty bot token")

// Sender implements protocol.Sender. One API client is kept per bot token.
type Sender struct {
	serverURL string
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[string]*bot.Bot
}

type Option func(*Sender)

// WithServerURL points the clients at a Bot API server other than api.telegram.org.
func WithServerURL(url string) Option {
	return func(s *Sender) {
		s.serverURL = url
	}
}

func NewSender(logger *slog.Logger, opts ...Option) *Sender {
	s := &Sender{
		logger:  logger.With("module", "telegram"),
		clients: make(map[string]*bot.Bot),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Sender) Send(ctx context.Context, credential string, msg protocol.OutgoingMessage) (protocol.Delivery, error) {
	client, err := s.client(credential)
	if err != nil {
		return protocol.Delivery{}, &protocol.SendError{Status: http.StatusUnauthorized, Detail: err.Error(), Err: err}
	}

	params := &bot.SendMessageParams{
		ChatID: msg.ChatID,
		Text:   msg.Text,
	}

	if keyboard := inlineKeyboard(msg.Buttons); keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	sent, err := client.SendMessage(ctx, params)
	if err != nil {
		sendErr := classify(err)
		s.logger.WarnContext(ctx, "Telegram send failed", "chat_id", msg.ChatID, "status", sendErr.Status, "error", err)

		return protocol.Delivery{}, sendErr
	}

	return protocol.Delivery{ProviderMessageID: strconv.Itoa(sent.ID)}, nil
}

func (s *Sender) client(token string) (*bot.Bot, error) {
	if token == "" {
		return nil, ErrEmptyCredential
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[token]; ok {
		return client, nil
	}

	opts := []bot.Option{bot.WithSkipGetMe()}
	if s.serverURL != "" {
		opts = append(opts, bot.WithServerURL(s.serverURL))
	}

	client, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}

	s.clients[token] = client

	return client, nil
}

// inlineKeyboard renders one button per row. Buttons with a URL open it; the rest send callback data.
func inlineKeyboard(buttons []models.Button) *tgmodels.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}

	rows := make([][]tgmodels.InlineKeyboardButton, 0, len(buttons))

	for _, button := range buttons {
		key := tgmodels.InlineKeyboardButton{Text: button.Text}

		switch {
		case button.URL != "":
			key.URL = button.URL
		case button.Data != "":
			key.CallbackData = button.Data
		default:
			key.CallbackData = button.Text
		}

		rows = append(rows, []tgmodels.InlineKeyboardButton{key})
	}

	return &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func classify(err error) *protocol.SendError {
	status := http.StatusBadGateway

	var tooMany *bot.TooManyRequestsError

	switch {
	case errors.As(err, &tooMany):
		status = http.StatusTooManyRequests
	case errors.Is(err, bot.ErrorUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, bot.ErrorForbidden):
		status = http.StatusForbidden
	case errors.Is(err, bot.ErrorBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, bot.ErrorNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	return &protocol.SendError{Status: status, Detail: err.Error(), Err: err}
}
