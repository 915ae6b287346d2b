package telegram

import (
	"errors"
	"fmt"
	"strings"
)

// RequestError is a terminal Bot API failure: a non-2xx status or an
// ok=false response body.
type RequestError struct {
	StatusCode  int
	ErrorCode   int
	Description string
	Body        string
	RetryAfter  int
}

func (e *RequestError) Error() string {
	if e == nil {
		return "telegram request failed"
	}
	desc := strings.TrimSpace(e.Description)
	if desc != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("telegram http %d: %s", e.StatusCode, desc)
		}
		return "telegram: " + desc
	}
	body := strings.TrimSpace(e.Body)
	if e.StatusCode > 0 {
		if body != "" {
			return fmt.Sprintf("telegram http %d: %s", e.StatusCode, body)
		}
		return fmt.Sprintf("telegram http %d", e.StatusCode)
	}
	if body != "" {
		return "telegram: " + body
	}
	return "telegram request failed"
}

// IsForbidden reports whether err means the peer blocked the bot or
// otherwise refuses delivery (HTTP 403).
func IsForbidden(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.ErrorCode == 403 || reqErr.StatusCode == 403
	}
	return false
}

// IsNotModified reports the harmless editMessageText outcome where the
// new content equals the old one.
func IsNotModified(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return strings.Contains(strings.ToLower(reqErr.Description), "message is not modified")
	}
	return false
}

func isMarkdownParseError(err error) bool {
	if err == nil {
		return false
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		desc := strings.ToLower(strings.TrimSpace(reqErr.Description))
		if strings.Contains(desc, "can't parse entities") || strings.Contains(desc, "can't parse entity") {
			return true
		}
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "can't parse entities") || strings.Contains(msg, "can't parse entity")
}
