package advisor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okxtrader/agent/internal/model"
)

func TestAdviseSendsSystemAndUserMessages(t *testing.T) {
	var got chatCompletionRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got))
		io.WriteString(w, `{"choices":[{"message":{"content":" [{\"signal\":\"hold\",\"coin\":\"BTC\"}] "}}]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "deepseek-chat", "you are a trading advisor", nil)
	content, err := client.Advise(context.Background(), model.AccountSnapshot{}, nil)
	require.NoError(t, err)
	assert.Equal(t, `[{"signal":"hold","coin":"BTC"}]`, content, "content is trimmed")

	assert.Equal(t, "Bearer key", auth)
	assert.Equal(t, "deepseek-chat", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Contains(t, got.Messages[1].Content, `"account"`)
}

func TestAdviseErrors(t *testing.T) {
	status := http.StatusBadGateway
	body := `{"error":"upstream"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "deepseek-chat", "sys", nil)
	_, err := client.Advise(context.Background(), model.AccountSnapshot{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	status = http.StatusOK
	body = `{"choices":[]}`
	_, err = client.Advise(context.Background(), model.AccountSnapshot{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")

	body = `{"choices":[{"message":{"content":"   "}}]}`
	_, err = client.Advise(context.Background(), model.AccountSnapshot{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}
