package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledNotifier(t *testing.T) {
	n := NewNotifier("", "", "", nil)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Send(context.Background(), "ignored"))
}

func TestSend(t *testing.T) {
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotChat = r.URL.Query().Get("chat_id")
		gotText = r.URL.Query().Get("text")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewNotifier("token123", "chat456", srv.URL, nil)
	require.NoError(t, n.Send(context.Background(), "archive finished"))
	assert.Equal(t, "/bottoken123/sendMessage", gotPath)
	assert.Equal(t, "chat456", gotChat)
	assert.Equal(t, "archive finished", gotText)
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := NewNotifier("t", "c", srv.URL, nil)
	assert.ErrorContains(t, n.Send(context.Background(), "x"), "status 401")
}

func TestSendItemizedBuckets(t *testing.T) {
	var messages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		messages = append(messages, r.URL.Query().Get("text"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewNotifier("t", "c", srv.URL, nil)

	items := make([]string, 45)
	for i := range items {
		items[i] = "item"
	}
	require.NoError(t, n.SendItemized(context.Background(), "Done:", items))
	require.Len(t, messages, 3)
	assert.Equal(t, 20, strings.Count(messages[0], "\n"))
	assert.Equal(t, 5, strings.Count(messages[2], "\n"))

	// Oversized lines shrink the bucket below 20 items.
	messages = nil
	long := make([]string, 4)
	for i := range long {
		long[i] = strings.Repeat("x", 1500)
	}
	require.NoError(t, n.SendItemized(context.Background(), "Done:", long))
	assert.Len(t, messages, 2)
	for _, msg := range messages {
		assert.LessOrEqual(t, len(msg), 4000+len("Done:")+1)
	}
}
