package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Vico-7/Telegram-chat-bot/captcha"
	"github.com/Vico-7/Telegram-chat-bot/internal/telegram"
	"github.com/Vico-7/Telegram-chat-bot/userstate"
)

const testOwnerID int64 = 1000

var captchaChallenge = captcha.Challenge{
	Kind:      captcha.KindFraction,
	Question:  "7/3",
	Answer:    2.33,
	Options:   []float64{2.33, 0.43, -2.33, 3.1},
	MessageID: 99,
}

type forwarded struct {
	To        int64
	From      int64
	MessageID int64
}

type fakeTransport struct {
	nextID int64
	sent   []struct {
		ChatID int64
		Text   string
	}
	forwards   []forwarded
	deleted    []int64
	forwardErr error
}

func (f *fakeTransport) SendMarkdownV2(_ context.Context, chatID int64, text string, _ *telegram.InlineKeyboardMarkup) (telegram.Message, error) {
	f.nextID++
	f.sent = append(f.sent, struct {
		ChatID int64
		Text   string
	}{chatID, text})
	return telegram.Message{MessageID: f.nextID}, nil
}

func (f *fakeTransport) ForwardMessage(_ context.Context, toChatID, fromChatID, messageID int64) (telegram.Message, error) {
	if f.forwardErr != nil {
		return telegram.Message{}, f.forwardErr
	}
	f.nextID++
	f.forwards = append(f.forwards, forwarded{To: toChatID, From: fromChatID, MessageID: messageID})
	return telegram.Message{MessageID: f.nextID}, nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, _ int64, messageID int64) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

// fakeVerifier treats the stored status as the whole truth and records
// challenge starts.
type fakeVerifier struct {
	toggleOff bool
	started   []int64
}

func (f *fakeVerifier) EffectivelyVerified(_ context.Context, u userstate.User) (bool, error) {
	if f.toggleOff {
		return true, nil
	}
	return u.Status == userstate.StatusVerified, nil
}

func (f *fakeVerifier) StartChallenge(_ context.Context, u userstate.User) (userstate.User, error) {
	f.started = append(f.started, u.ID)
	u.Status = userstate.StatusChallenged
	return u, nil
}

func newTestRouter(t *testing.T) (*Router, userstate.Store, *fakeTransport, *fakeVerifier) {
	t.Helper()
	store := userstate.NewFileStore(t.TempDir())
	if err := store.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	tg := &fakeTransport{}
	engine := &fakeVerifier{}
	r := NewRouter(RouterOptions{
		Store:     store,
		Transport: tg,
		Engine:    engine,
		OwnerID:   testOwnerID,
	})
	return r, store, tg, engine
}

func putUser(t *testing.T, store userstate.Store, u userstate.User) {
	t.Helper()
	if u.RegisteredAt.IsZero() {
		u.RegisteredAt = time.Now().UTC()
	}
	if err := store.PutUser(context.Background(), u); err != nil {
		t.Fatalf("PutUser() error = %v", err)
	}
}

func userMessage(fromID, messageID int64, text string) telegram.Message {
	return telegram.Message{
		MessageID: messageID,
		Chat:      &telegram.Chat{ID: fromID, Type: "private"},
		From:      &telegram.User{ID: fromID, FirstName: "U"},
		Text:      text,
	}
}

func TestOnUserMessageBlockedSilentDrop(t *testing.T) {
	t.Parallel()

	r, store, tg, _ := newTestRouter(t)
	ctx := context.Background()
	putUser(t, store, userstate.User{ID: 5, Status: userstate.StatusVerified, Blocked: true})

	if err := r.OnUserMessage(ctx, userMessage(5, 10, "hi")); err != nil {
		t.Fatalf("OnUserMessage() error = %v", err)
	}
	if len(tg.sent) != 0 || len(tg.forwards) != 0 || len(tg.deleted) != 0 {
		t.Fatalf("OnUserMessage() produced traffic for blocked user: %+v", tg)
	}
}

func TestOnUserMessageUnverifiedStartsChallenge(t *testing.T) {
	t.Parallel()

	r, store, tg, engine := newTestRouter(t)
	ctx := context.Background()
	putUser(t, store, userstate.User{ID: 6, Status: userstate.StatusUnverified})

	if err := r.OnUserMessage(ctx, userMessage(6, 11, "hello")); err != nil {
		t.Fatalf("OnUserMessage() error = %v", err)
	}
	if len(tg.deleted) != 1 || tg.deleted[0] != 11 {
		t.Fatalf("OnUserMessage() deleted = %v, want the inbound message", tg.deleted)
	}
	if len(engine.started) != 1 || engine.started[0] != 6 {
		t.Fatalf("OnUserMessage() started challenges = %v, want [6]", engine.started)
	}
	if len(tg.forwards) != 0 {
		t.Fatalf("OnUserMessage() forwarded unverified message")
	}
}

func TestOnUserMessageChallengedDoesNotRestart(t *testing.T) {
	t.Parallel()

	r, store, _, engine := newTestRouter(t)
	ctx := context.Background()
	putUser(t, store, userstate.User{
		ID:     7,
		Status: userstate.StatusChallenged,
		Challenge: &captchaChallenge,
	})

	if err := r.OnUserMessage(ctx, userMessage(7, 12, "answer?")); err != nil {
		t.Fatalf("OnUserMessage() error = %v", err)
	}
	if len(engine.started) != 0 {
		t.Fatalf("OnUserMessage() restarted an outstanding challenge")
	}
}

func TestOnUserMessageVerifiedForwardsAndAdoptsTarget(t *testing.T) {
	t.Parallel()

	r, store, tg, _ := newTestRouter(t)
	ctx := context.Background()
	putUser(t, store, userstate.User{ID: 8, Status: userstate.StatusVerified})

	if err := r.OnUserMessage(ctx, userMessage(8, 13, "hi owner")); err != nil {
		t.Fatalf("OnUserMessage() error = %v", err)
	}
	if len(tg.forwards) != 1 {
		t.Fatalf("OnUserMessage() forwards = %d, want 1", len(tg.forwards))
	}
	fw := tg.forwards[0]
	if fw.To != testOwnerID || fw.From != 8 || fw.MessageID != 13 {
		t.Fatalf("OnUserMessage() forward = %+v", fw)
	}

	settings, err := store.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if settings.CurrentTarget != 8 {
		t.Fatalf("OnUserMessage() target = %d, want adopted 8", settings.CurrentTarget)
	}
}

func TestOnUserMessageRegistersStranger(t *testing.T) {
	t.Parallel()

	r, store, _, _ := newTestRouter(t)
	ctx := context.Background()

	if err := r.OnUserMessage(ctx, userMessage(9, 14, "first contact")); err != nil {
		t.Fatalf("OnUserMessage() error = %v", err)
	}
	u, ok, err := store.GetUser(ctx, 9)
	if err != nil || !ok {
		t.Fatalf("GetUser() = %v, %v, want registered user", ok, err)
	}
	if u.Status != userstate.StatusUnverified {
		t.Fatalf("registered status = %q, want unverified", u.Status)
	}
}

func TestOnOwnerMessageNoTarget(t *testing.T) {
	t.Parallel()

	r, _, tg, _ := newTestRouter(t)
	ctx := context.Background()

	msg := telegram.Message{MessageID: 20, Chat: &telegram.Chat{ID: testOwnerID}}
	err := r.OnOwnerMessage(ctx, msg)
	if !errors.Is(err, ErrNoTarget) {
		t.Fatalf("OnOwnerMessage() error = %v, want ErrNoTarget", err)
	}
	if len(tg.sent) != 1 || tg.sent[0].ChatID != testOwnerID {
		t.Fatalf("OnOwnerMessage() owner was not told about the missing target")
	}
}

func TestOnOwnerMessageForwardsToTarget(t *testing.T) {
	t.Parallel()

	r, store, tg, _ := newTestRouter(t)
	ctx := context.Background()
	putUser(t, store, userstate.User{ID: 21, Status: userstate.StatusVerified})
	settings, _ := store.GetSettings(ctx)
	settings.CurrentTarget = 21
	if err := store.PutSettings(ctx, settings); err != nil {
		t.Fatalf("PutSettings() error = %v", err)
	}

	msg := telegram.Message{MessageID: 22, Chat: &telegram.Chat{ID: testOwnerID}}
	if err := r.OnOwnerMessage(ctx, msg); err != nil {
		t.Fatalf("OnOwnerMessage() error = %v", err)
	}
	if len(tg.forwards) != 1 || tg.forwards[0].To != 21 {
		t.Fatalf("OnOwnerMessage() forwards = %+v, want delivery to 21", tg.forwards)
	}
}

func TestOnOwnerMessageBlockedTargetCleared(t *testing.T) {
	t.Parallel()

	r, store, tg, _ := newTestRouter(t)
	ctx := context.Background()
	putUser(t, store, userstate.User{ID: 23, Status: userstate.StatusVerified, Blocked: true})
	settings, _ := store.GetSettings(ctx)
	settings.CurrentTarget = 23
	if err := store.PutSettings(ctx, settings); err != nil {
		t.Fatalf("PutSettings() error = %v", err)
	}

	msg := telegram.Message{MessageID: 24, Chat: &telegram.Chat{ID: testOwnerID}}
	err := r.OnOwnerMessage(ctx, msg)
	if !errors.Is(err, ErrNoTarget) {
		t.Fatalf("OnOwnerMessage() error = %v, want ErrNoTarget", err)
	}
	settings, _ = store.GetSettings(ctx)
	if settings.CurrentTarget != 0 {
		t.Fatalf("OnOwnerMessage() target = %d, want cleared", settings.CurrentTarget)
	}
	if len(tg.sent) == 0 {
		t.Fatalf("OnOwnerMessage() owner was not told the target is gone")
	}
}

func TestOnOwnerMessageForbiddenAutoBlocks(t *testing.T) {
	t.Parallel()

	r, store, tg, _ := newTestRouter(t)
	ctx := context.Background()
	putUser(t, store, userstate.User{ID: 25, Status: userstate.StatusVerified})
	settings, _ := store.GetSettings(ctx)
	settings.CurrentTarget = 25
	if err := store.PutSettings(ctx, settings); err != nil {
		t.Fatalf("PutSettings() error = %v", err)
	}
	tg.forwardErr = &telegram.RequestError{StatusCode: 403, ErrorCode: 403, Description: "Forbidden: bot was blocked by the user"}

	msg := telegram.Message{MessageID: 26, Chat: &telegram.Chat{ID: testOwnerID}}
	if err := r.OnOwnerMessage(ctx, msg); err != nil {
		t.Fatalf("OnOwnerMessage() error = %v, want nil after auto-block", err)
	}

	u, _, _ := store.GetUser(ctx, 25)
	if !u.Blocked || u.BlockReason != "blocked the bot" {
		t.Fatalf("OnOwnerMessage() user = %+v, want auto-blocked", u)
	}
	settings, _ = store.GetSettings(ctx)
	if settings.CurrentTarget != 0 {
		t.Fatalf("OnOwnerMessage() target = %d, want cleared", settings.CurrentTarget)
	}
}

func TestSetTargetValidations(t *testing.T) {
	t.Parallel()

	r, store, _, _ := newTestRouter(t)
	ctx := context.Background()

	if err := r.SetTarget(ctx, 404); err == nil {
		t.Fatalf("SetTarget() accepted unknown user")
	}

	putUser(t, store, userstate.User{ID: 30, Status: userstate.StatusVerified, Blocked: true})
	if err := r.SetTarget(ctx, 30); err == nil {
		t.Fatalf("SetTarget() accepted blocked user")
	}

	putUser(t, store, userstate.User{ID: 31, Status: userstate.StatusUnverified})
	if err := r.SetTarget(ctx, 31); err == nil {
		t.Fatalf("SetTarget() accepted unverified user")
	}

	putUser(t, store, userstate.User{ID: 32, Status: userstate.StatusVerified})
	if err := r.SetTarget(ctx, 32); err != nil {
		t.Fatalf("SetTarget() error = %v", err)
	}
	settings, _ := store.GetSettings(ctx)
	if settings.CurrentTarget != 32 {
		t.Fatalf("SetTarget() target = %d, want 32", settings.CurrentTarget)
	}
}
