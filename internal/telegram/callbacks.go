package telegram

import (
	"fmt"
	"strconv"
	"strings"
)

// Callback actions carried in inline button data. The wire format is
// flat strings: bare actions for owner-panel buttons, and
// "<action>_<uid>" or "verify_<uid>_<answer>" where a subject user is
// involved.
const (
	CallbackVerify     = "verify"
	CallbackConfirmBan = "confirm_ban"
	CallbackCancelBan  = "cancel_ban"
	CallbackUnban      = "cb_unban"
	CallbackSwitch     = "cb_switch"

	CallbackRequestBan   = "request_ban"
	CallbackRequestUnban = "request_unban"
	CallbackRequestChat  = "request_chat"
	CallbackList         = "list"
	CallbackBlacklist    = "blacklist"
	CallbackStatus       = "status"
	CallbackClean        = "clean"
	CallbackCount        = "count"
	CallbackConfirmClean = "confirm_clean"
	CallbackCancelClean  = "cancel_clean"
	CallbackResetChat    = "reset_chat"
	CallbackCancelUserID = "cancel_user_id"
)

// Callback is a decoded inline button payload.
type Callback struct {
	Action string
	UserID int64
	Answer float64
}

// VerifyCallbackData renders an answer option button payload. Answers
// travel as fixed 2-decimal strings so render and parse agree.
func VerifyCallbackData(userID int64, answer float64) string {
	return fmt.Sprintf("%s_%d_%.2f", CallbackVerify, userID, answer)
}

// UserCallbackData renders an action that targets a specific user.
func UserCallbackData(action string, userID int64) string {
	return fmt.Sprintf("%s_%d", action, userID)
}

// ParseCallback decodes inline button data. Unknown payloads return
// ok=false; the dispatcher ignores them.
func ParseCallback(data string) (Callback, bool) {
	data = strings.TrimSpace(data)
	switch data {
	case CallbackRequestBan, CallbackRequestUnban, CallbackRequestChat,
		CallbackList, CallbackBlacklist, CallbackStatus,
		CallbackClean, CallbackCount,
		CallbackConfirmClean, CallbackCancelClean,
		CallbackResetChat, CallbackCancelUserID:
		return Callback{Action: data}, true
	}

	if rest, found := strings.CutPrefix(data, CallbackVerify+"_"); found {
		parts := strings.SplitN(rest, "_", 2)
		if len(parts) != 2 {
			return Callback{}, false
		}
		uid, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return Callback{}, false
		}
		answer, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return Callback{}, false
		}
		return Callback{Action: CallbackVerify, UserID: uid, Answer: answer}, true
	}

	for _, action := range []string{CallbackConfirmBan, CallbackCancelBan, CallbackUnban, CallbackSwitch} {
		if rest, found := strings.CutPrefix(data, action+"_"); found {
			uid, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return Callback{}, false
			}
			return Callback{Action: action, UserID: uid}, true
		}
	}
	return Callback{}, false
}
