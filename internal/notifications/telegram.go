package notifications

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to a Telegram chat.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// heading maps an alert level to the message headline. Alerts are sent
// as plain text so posture messages with percentages and arrows never
// trip Telegram's markdown parser.
func heading(level Level) string {
	switch level {
	case LevelWarning:
		return "⚠️ Gateway Warning"
	case LevelError:
		return "🚨 Gateway Incident"
	case LevelSuccess:
		return "✅ Gateway Recovered"
	default:
		return "ℹ️ Gateway"
	}
}

func (t *TelegramNotifier) SendAlert(level Level, message string) error {
	text := fmt.Sprintf("%s\n\n%s", heading(level), message)
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", text)

	resp, err := t.client.Post(apiURL, "application/x-www-form-urlencoded",
		strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}
