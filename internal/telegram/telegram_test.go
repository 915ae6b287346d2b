package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEscapeMarkdownV2(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"a_b", "a\\_b"},
		{"2^3 = 8.00", "2^3 \\= 8\\.00"},
		{"(-2)^-3", "\\(\\-2\\)^\\-3"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := EscapeMarkdownV2(tc.in); got != tc.want {
			t.Fatalf("EscapeMarkdownV2(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEscapeMarkdownV2LeavesCaretAlone(t *testing.T) {
	t.Parallel()

	// Caret is not MarkdownV2 syntax and must survive unescaped.
	if got := EscapeMarkdownV2("4^2"); !strings.Contains(got, "^") || strings.Contains(got, "\\^2") {
		t.Fatalf("EscapeMarkdownV2(4^2) = %q", got)
	}
}

func TestWebhookSecretRejection(t *testing.T) {
	t.Parallel()

	var received []Update
	srv := NewWebhookServer(WebhookOptions{
		Path:   "/hook",
		Secret: "topsecret",
		Handler: func(u Update) {
			received = append(received, u)
		},
	})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(Update{UpdateID: 1, Message: &Message{MessageID: 2, Text: "hi"}})

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/hook", bytes.NewReader(body))
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("missing secret status = %d, want 403", resp.StatusCode)
	}
	if len(received) != 0 {
		t.Fatalf("handler ran on rejected request")
	}

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/hook", bytes.NewReader(body))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "topsecret")
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid secret status = %d, want 200", resp.StatusCode)
	}
	if len(received) != 1 || received[0].UpdateID != 1 {
		t.Fatalf("handler updates = %+v, want one update", received)
	}
}

func TestClientSendMessageDecodesResult(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var params SendMessageParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if params.ChatID != 42 {
			t.Errorf("chat_id = %d, want 42", params.ChatID)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": Message{MessageID: 77, Text: params.Text},
		})
	}))
	defer ts.Close()

	c := NewClient(ClientOptions{BaseURL: ts.URL, Token: "t"})
	msg, err := c.SendMessage(context.Background(), SendMessageParams{ChatID: 42, Text: "hello"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.MessageID != 77 {
		t.Fatalf("SendMessage() message id = %d, want 77", msg.MessageID)
	}
}

func TestClientRequestError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  403,
			"description": "Forbidden: bot was blocked by the user",
		})
	}))
	defer ts.Close()

	c := NewClient(ClientOptions{BaseURL: ts.URL, Token: "t"})
	_, err := c.SendMessage(context.Background(), SendMessageParams{ChatID: 1, Text: "x"})
	if err == nil {
		t.Fatalf("SendMessage() error = nil, want RequestError")
	}
	if !IsForbidden(err) {
		t.Fatalf("IsForbidden(%v) = false, want true", err)
	}
}
