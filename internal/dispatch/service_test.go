package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"wabridge/internal/address"
	"wabridge/internal/domain"
	"wabridge/internal/lock"
	"wabridge/internal/media"
	"wabridge/internal/validate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(gw *fakeGateway, f *fakeFetcher) *Service {
	cfg := ServiceConfig{Gateway: gw, Logger: testLogger()}
	if f != nil {
		cfg.Fetcher = f
	}
	return NewService(cfg)
}

func TestSendMessage_Success(t *testing.T) {
	gw := newFakeGateway()
	gw.registered["6281234567890@c.us"] = true
	svc := newTestService(gw, nil)

	out := svc.Dispatch(context.Background(), domain.DirectMessage{Number: "081234567890", Text: "hello"})

	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	res, ok := out.Payload.(*domain.SendResult)
	require.True(t, ok)
	assert.Equal(t, "6281234567890@c.us", res.To)
	require.Len(t, gw.sent, 1)
	assert.Equal(t, "hello", gw.sent[0].Content.Text)
	assert.Nil(t, gw.sent[0].Content.Media)
}

func TestSendMessage_NotRegisteredNeverSends(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(gw, nil)

	out := svc.SendMessage(context.Background(), domain.DirectMessage{Number: "0899", Text: "hi"})

	assert.Equal(t, domain.OutcomeRecipientNotRegistered, out.Kind)
	assert.Equal(t, []string{"IsRegisteredUser"}, gw.Calls())
}

func TestSendMessage_MissingMessage(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(gw, nil)

	out := svc.SendMessage(context.Background(), domain.DirectMessage{Number: "0812"})

	require.Equal(t, domain.OutcomeValidationFailed, out.Kind)
	assert.Equal(t, map[string]string{"message": validate.DefaultMessage}, out.Errors)
	assert.Empty(t, gw.Calls())
}

func TestSendMessage_MissingBoth(t *testing.T) {
	svc := newTestService(newFakeGateway(), nil)

	out := svc.SendMessage(context.Background(), domain.DirectMessage{})

	require.Equal(t, domain.OutcomeValidationFailed, out.Kind)
	assert.Len(t, out.Errors, 2)
	assert.Contains(t, out.Errors, "number")
	assert.Contains(t, out.Errors, "message")
}

func TestSendMessage_RegistrationErrorIsTransport(t *testing.T) {
	gw := newFakeGateway()
	gw.regErr = domain.ErrSessionNotReady
	svc := newTestService(gw, nil)

	out := svc.SendMessage(context.Background(), domain.DirectMessage{Number: "0812", Text: "x"})

	require.Equal(t, domain.OutcomeTransportError, out.Kind)
	assert.ErrorIs(t, out.Err, domain.ErrSessionNotReady)
	assert.NotContains(t, gw.Calls(), "SendMessage")
}

func TestSendMessage_SendErrorIsTransport(t *testing.T) {
	gw := newFakeGateway()
	gw.registered["62812@c.us"] = true
	gw.sendErr = errBoom
	svc := newTestService(gw, nil)

	out := svc.SendMessage(context.Background(), domain.DirectMessage{Number: "0812", Text: "x"})

	require.Equal(t, domain.OutcomeTransportError, out.Kind)
	assert.ErrorIs(t, out.Err, errBoom)
}

func TestSendGroupMessage_ByNameCaseInsensitive(t *testing.T) {
	gw := newFakeGateway()
	gw.chats = []domain.Chat{
		&fakeChat{id: "628111@c.us", name: "Family", group: false},
		&fakeChat{id: "120363001@g.us", name: "Family", group: true},
		&fakeChat{id: "120363002@g.us", name: "family", group: true},
	}
	svc := newTestService(gw, nil)

	out := svc.Dispatch(context.Background(), domain.GroupMessage{Ref: domain.GroupRef{Name: "FAMILY"}, Text: "hi all"})

	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	require.Len(t, gw.sent, 1)
	assert.Equal(t, "120363001@g.us", gw.sent[0].Target, "first matching group in list order wins")
	assert.NotContains(t, gw.Calls(), "IsRegisteredUser")
}

func TestSendGroupMessage_NameMissNeverSends(t *testing.T) {
	gw := newFakeGateway()
	gw.chats = []domain.Chat{&fakeChat{id: "120363001@g.us", name: "Work", group: true}}
	svc := newTestService(gw, nil)

	out := svc.SendGroupMessage(context.Background(), domain.GroupMessage{Ref: domain.GroupRef{Name: "Family"}, Text: "hi"})

	assert.Equal(t, domain.OutcomeGroupNotFound, out.Kind)
	assert.Equal(t, "Family", out.Group)
	assert.Equal(t, []string{"GetChats"}, gw.Calls())
}

func TestSendGroupMessage_ByIDSkipsLookup(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(gw, nil)

	out := svc.SendGroupMessage(context.Background(), domain.GroupMessage{
		Ref:  domain.GroupRef{ID: "120363009@g.us", Name: "ignored"},
		Text: "hi",
	})

	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.Equal(t, []string{"SendMessage"}, gw.Calls())
	assert.Equal(t, "120363009@g.us", gw.sent[0].Target)
}

func TestSendGroupMessage_NoTargetFailsBeforeSession(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(gw, nil)

	out := svc.SendGroupMessage(context.Background(), domain.GroupMessage{Text: "hi"})

	require.Equal(t, domain.OutcomeValidationFailed, out.Kind)
	assert.Equal(t, validate.GroupTargetMessage, out.Errors["id"])
	assert.Empty(t, gw.Calls())
}

func TestSendGroupMessage_ListErrorIsTransport(t *testing.T) {
	gw := newFakeGateway()
	gw.chatsErr = errBoom
	svc := newTestService(gw, nil)

	out := svc.SendGroupMessage(context.Background(), domain.GroupMessage{Ref: domain.GroupRef{Name: "x"}, Text: "hi"})

	require.Equal(t, domain.OutcomeTransportError, out.Kind)
	assert.ErrorIs(t, out.Err, errBoom)
}

func TestSendMedia_Success(t *testing.T) {
	gw := newFakeGateway()
	f := &fakeFetcher{media: &media.Media{Data: []byte("PNGDATA"), MimeType: "image/png"}}
	svc := newTestService(gw, f)

	out := svc.Dispatch(context.Background(), domain.MediaMessage{
		Number:    "081234567890",
		Caption:   "look",
		SourceURL: "https://example.com/cat.png",
	})

	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.Equal(t, []string{"https://example.com/cat.png"}, f.urls)
	require.Len(t, gw.sent, 1)
	sent := gw.sent[0]
	assert.Equal(t, "6281234567890@c.us", sent.Target)
	assert.Equal(t, "look", sent.Opts.Caption)
	require.NotNil(t, sent.Content.Media)
	assert.Equal(t, "image/png", sent.Content.Media.MimeType)
	assert.Equal(t, media.DefaultFilename, sent.Content.Media.Filename)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("PNGDATA")), sent.Content.Media.Data)
	assert.NotContains(t, gw.Calls(), "IsRegisteredUser")
}

func TestSendMedia_FetchErrorNeverSends(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(gw, &fakeFetcher{err: errBoom})

	out := svc.SendMedia(context.Background(), domain.MediaMessage{Number: "0812", SourceURL: "https://x"})

	require.Equal(t, domain.OutcomeTransportError, out.Kind)
	assert.Empty(t, gw.Calls())
}

func TestClearChat_Success(t *testing.T) {
	gw := newFakeGateway()
	chat := &fakeChat{id: "6281234@c.us"}
	gw.chats = []domain.Chat{chat}
	gw.registered["6281234@c.us"] = true
	svc := newTestService(gw, nil)

	out := svc.Dispatch(context.Background(), domain.ClearChat{Number: "081234"})

	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.Equal(t, true, out.Payload)
	assert.Equal(t, 1, chat.cleared)
}

func TestClearChat_NotRegistered(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(gw, nil)

	out := svc.ClearChat(context.Background(), domain.ClearChat{Number: "0"})

	assert.Equal(t, domain.OutcomeRecipientNotRegistered, out.Kind)
	assert.Equal(t, []string{"IsRegisteredUser"}, gw.Calls())
}

func TestClearChat_ClearError(t *testing.T) {
	gw := newFakeGateway()
	gw.chats = []domain.Chat{&fakeChat{id: "62812@c.us", clearErr: errBoom}}
	gw.registered["62812@c.us"] = true
	svc := newTestService(gw, nil)

	out := svc.ClearChat(context.Background(), domain.ClearChat{Number: "0812"})

	require.Equal(t, domain.OutcomeTransportError, out.Kind)
	assert.True(t, errors.Is(out.Err, errBoom))
}

func TestClearChat_MissingNumber(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(gw, nil)

	out := svc.ClearChat(context.Background(), domain.ClearChat{Number: "  "})

	require.Equal(t, domain.OutcomeValidationFailed, out.Kind)
	assert.Contains(t, out.Errors, "number")
	assert.Empty(t, gw.Calls())
}

func TestDispatch_CustomCountryCode(t *testing.T) {
	gw := newFakeGateway()
	gw.registered["5511987654321@c.us"] = true
	svc := NewService(ServiceConfig{
		Gateway:    gw,
		Normalizer: address.Normalizer{CountryCode: "55"},
		Logger:     testLogger(),
	})

	out := svc.SendMessage(context.Background(), domain.DirectMessage{Number: "011987654321", Text: "oi"})

	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.Equal(t, "5511987654321@c.us", gw.sent[0].Target)
}

func TestDispatch_LockerIsUsed(t *testing.T) {
	gw := newFakeGateway()
	gw.registered["62812@c.us"] = true
	l := lock.NewLocal()
	svc := NewService(ServiceConfig{Gateway: gw, Locker: l, Logger: testLogger()})

	held, err := l.Lock(context.Background(), "62812@c.us")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := svc.SendMessage(ctx, domain.DirectMessage{Number: "0812", Text: "x"})
	assert.Equal(t, domain.OutcomeTransportError, out.Kind)
	assert.Empty(t, gw.Calls())

	held()
	out = svc.SendMessage(context.Background(), domain.DirectMessage{Number: "0812", Text: "x"})
	assert.Equal(t, domain.OutcomeSuccess, out.Kind)
}

func TestDispatch_RateLimiterCancelled(t *testing.T) {
	gw := newFakeGateway()
	gw.registered["62812@c.us"] = true
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	svc := NewService(ServiceConfig{Gateway: gw, Limiter: limiter, Logger: testLogger()})

	out := svc.SendMessage(context.Background(), domain.DirectMessage{Number: "0812", Text: "first"})
	require.Equal(t, domain.OutcomeSuccess, out.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out = svc.SendMessage(ctx, domain.DirectMessage{Number: "0812", Text: "second"})
	assert.Equal(t, domain.OutcomeTransportError, out.Kind)
	assert.Len(t, gw.sent, 1)
}
