package notifications

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAlertPostsFormattedMessage(t *testing.T) {
	var gotPath, gotChatID, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotChatID = r.FormValue("chat_id")
		gotText = r.FormValue("text")
	}))
	defer server.Close()

	n := NewTelegramNotifier("token-123", "chat-456")
	n.baseURL = server.URL

	require.NoError(t, n.SendAlert(LevelError, "circuit open on kraken"))

	assert.Equal(t, "/bottoken-123/sendMessage", gotPath)
	assert.Equal(t, "chat-456", gotChatID)
	assert.Contains(t, gotText, "Gateway Incident")
	assert.Contains(t, gotText, "circuit open on kraken")
}

func TestSendAlertSurfacesHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	n := NewTelegramNotifier("token", "chat")
	n.baseURL = server.URL

	err := n.SendAlert(LevelInfo, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestHeadingPerLevel(t *testing.T) {
	assert.Contains(t, heading(LevelWarning), "Warning")
	assert.Contains(t, heading(LevelError), "Incident")
	assert.Contains(t, heading(LevelSuccess), "Recovered")
	assert.Contains(t, heading(LevelInfo), "Gateway")
}
