package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv
}

func TestSender_Send(t *testing.T) {
	var (
		path     string
		keyboard string
		text     string
	)

	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path

		require.NoError(t, r.ParseMultipartForm(1<<20))
		text = r.FormValue("text")
		keyboard = r.FormValue("reply_markup")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":77,"date":0,"chat":{"id":42,"type":"private"}}}`))
	})

	sender := NewSender(slog.Default(), WithServerURL(srv.URL))

	delivery, err := sender.Send(context.Background(), "123:token", protocol.OutgoingMessage{
		ChatID: "42",
		Text:   "Balance: 500",
		Buttons: []models.Button{
			{Text: "Top up", Data: "topup"},
			{Text: "Site", URL: "https://example.com"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "77", delivery.ProviderMessageID)
	assert.True(t, strings.HasSuffix(path, "/bot123:token/sendMessage"), path)
	assert.Equal(t, "Balance: 500", text)
	assert.Contains(t, keyboard, `"callback_data":"topup"`)
	assert.Contains(t, keyboard, `"url":"https://example.com"`)
}

func TestSender_ReusesClientPerToken(t *testing.T) {
	sender := NewSender(slog.Default())

	first, err := sender.client("123:token")
	require.NoError(t, err)

	second, err := sender.client("123:token")
	require.NoError(t, err)

	other, err := sender.client("456:token")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
}

func TestSender_EmptyCredential(t *testing.T) {
	sender := NewSender(slog.Default())

	_, err := sender.Send(context.Background(), "", protocol.OutgoingMessage{ChatID: "42", Text: "hi"})

	var sendErr *protocol.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, http.StatusUnauthorized, sendErr.Status)
	assert.ErrorIs(t, err, ErrEmptyCredential)
}

func TestSender_MapsAPIErrors(t *testing.T) {
	var calls atomic.Int32

	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	})

	sender := NewSender(slog.Default(), WithServerURL(srv.URL))

	_, err := sender.Send(context.Background(), "123:token", protocol.OutgoingMessage{ChatID: "42", Text: "hi"})

	var sendErr *protocol.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, http.StatusForbidden, sendErr.Status)
	assert.Contains(t, sendErr.Detail, "blocked")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClassify_Unknown(t *testing.T) {
	sendErr := classify(errors.New("connection reset"))

	assert.Equal(t, http.StatusBadGateway, sendErr.Status)
}

func TestInlineKeyboard(t *testing.T) {
	assert.Nil(t, inlineKeyboard(nil))

	keyboard := inlineKeyboard([]models.Button{{Text: "Yes"}})
	require.NotNil(t, keyboard)
	require.Len(t, keyboard.InlineKeyboard, 1)
	assert.Equal(t, "Yes", keyboard.InlineKeyboard[0][0].CallbackData)
}
