package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.telegram.org"

	// Bot API global sendMessage ceiling is ~30/s; stay under it.
	defaultRequestsPerSecond = 25
)

type Client struct {
	http    *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

type ClientOptions struct {
	HTTPClient        *http.Client
	BaseURL           string
	Token             string
	RequestsPerSecond float64
	Logger            *slog.Logger
}

func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		token:   strings.TrimSpace(opts.Token),
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
		logger:  logger,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// invoke posts a JSON payload to a Bot API method, decoding the result
// into out when non-nil. A 429 is retried once after the advertised
// retry_after.
func (c *Client) invoke(ctx context.Context, method string, payload any, out any) error {
	err := c.invokeOnce(ctx, method, payload, out)
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.ErrorCode == 429 && reqErr.RetryAfter > 0 {
		c.logger.Warn("telegram rate limited", "method", method, "retry_after", reqErr.RetryAfter)
		timer := time.NewTimer(time.Duration(reqErr.RetryAfter) * time.Second)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		return c.invokeOnce(ctx, method, payload, out)
	}
	return err
}

func (c *Client) invokeOnce(ctx context.Context, method string, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var parsed apiResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !parsed.OK {
		reqErr := &RequestError{
			StatusCode:  resp.StatusCode,
			ErrorCode:   parsed.ErrorCode,
			Description: parsed.Description,
			Body:        strings.TrimSpace(string(raw)),
		}
		if parsed.Parameters != nil {
			reqErr.RetryAfter = parsed.Parameters.RetryAfter
		}
		return reqErr
	}
	if out != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.invoke(ctx, "getMe", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUpdates long-polls for message and callback_query updates and
// returns the next offset to poll from.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	u := fmt.Sprintf("%s?timeout=%d&allowed_updates=%s",
		c.methodURL("getUpdates"), secs, url.QueryEscape(`["message","callback_query"]`))
	if offset > 0 {
		u += fmt.Sprintf("&offset=%d", offset)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, offset, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, offset, err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, offset, fmt.Errorf("telegram http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		OK     bool     `json:"ok"`
		Result []Update `json:"result"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, offset, err
	}
	if !out.OK {
		return nil, offset, fmt.Errorf("telegram getUpdates: ok=false")
	}

	next := offset
	for _, upd := range out.Result {
		if upd.UpdateID >= next {
			next = upd.UpdateID + 1
		}
	}
	return out.Result, next, nil
}

// IsPollTimeoutError reports whether a GetUpdates failure is only the
// long poll expiring.
func IsPollTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "client.timeout exceeded")
}

type SendMessageParams struct {
	ChatID                int64                 `json:"chat_id"`
	Text                  string                `json:"text"`
	ParseMode             string                `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool                  `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (Message, error) {
	params.Text = strings.TrimSpace(params.Text)
	if params.Text == "" {
		params.Text = "(empty)"
	}
	var msg Message
	if err := c.invoke(ctx, "sendMessage", params, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

type EditMessageParams struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

func (c *Client) EditMessageText(ctx context.Context, params EditMessageParams) error {
	err := c.invoke(ctx, "editMessageText", params, nil)
	if IsNotModified(err) {
		return nil
	}
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	payload := struct {
		ChatID    int64 `json:"chat_id"`
		MessageID int64 `json:"message_id"`
	}{chatID, messageID}
	return c.invoke(ctx, "deleteMessage", payload, nil)
}

func (c *Client) ForwardMessage(ctx context.Context, toChatID, fromChatID, messageID int64) (Message, error) {
	payload := struct {
		ChatID     int64 `json:"chat_id"`
		FromChatID int64 `json:"from_chat_id"`
		MessageID  int64 `json:"message_id"`
	}{toChatID, fromChatID, messageID}
	var msg Message
	if err := c.invoke(ctx, "forwardMessage", payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error {
	payload := struct {
		CallbackQueryID string `json:"callback_query_id"`
		Text            string `json:"text,omitempty"`
		ShowAlert       bool   `json:"show_alert,omitempty"`
	}{callbackID, text, showAlert}
	return c.invoke(ctx, "answerCallbackQuery", payload, nil)
}

func (c *Client) SetWebhook(ctx context.Context, webhookURL, secretToken string) error {
	payload := struct {
		URL            string   `json:"url"`
		SecretToken    string   `json:"secret_token,omitempty"`
		AllowedUpdates []string `json:"allowed_updates,omitempty"`
	}{webhookURL, secretToken, []string{"message", "callback_query"}}
	return c.invoke(ctx, "setWebhook", payload, nil)
}

func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	payload := struct {
		DropPendingUpdates bool `json:"drop_pending_updates,omitempty"`
	}{dropPending}
	return c.invoke(ctx, "deleteWebhook", payload, nil)
}

func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	payload := struct {
		Commands []BotCommand `json:"commands"`
	}{commands}
	return c.invoke(ctx, "setMyCommands", payload, nil)
}
