package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"wabridge/internal/domain"
	"wabridge/internal/media"
)

type sentMessage struct {
	Target  string
	Content domain.Content
	Opts    domain.SendOptions
}

// fakeGateway records every call so tests can assert that no session call
// happened on a short-circuit path.
type fakeGateway struct {
	mu         sync.Mutex
	registered map[string]bool
	regErr     error
	chats      []domain.Chat
	chatsErr   error
	sendErr    error
	calls      []string
	sent       []sentMessage
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{registered: make(map[string]bool)}
}

func (f *fakeGateway) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeGateway) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeGateway) SendMessage(_ context.Context, target string, content domain.Content, opts domain.SendOptions) (*domain.SendResult, error) {
	f.record("SendMessage")
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{Target: target, Content: content, Opts: opts})
	f.mu.Unlock()
	return &domain.SendResult{
		ID:        "3EB0TEST",
		To:        target,
		Timestamp: time.Unix(1700000000, 0),
		HasMedia:  content.Media != nil,
	}, nil
}

func (f *fakeGateway) IsRegisteredUser(_ context.Context, addr string) (bool, error) {
	f.record("IsRegisteredUser")
	if f.regErr != nil {
		return false, f.regErr
	}
	return f.registered[addr], nil
}

func (f *fakeGateway) GetChats(context.Context) ([]domain.Chat, error) {
	f.record("GetChats")
	if f.chatsErr != nil {
		return nil, f.chatsErr
	}
	return f.chats, nil
}

func (f *fakeGateway) GetChatByID(_ context.Context, id string) (domain.Chat, error) {
	f.record("GetChatByID")
	for _, c := range f.chats {
		if c.ID() == id {
			return c, nil
		}
	}
	return &fakeChat{id: id}, nil
}

type fakeChat struct {
	id       string
	name     string
	group    bool
	clearErr error
	cleared  int
}

func (c *fakeChat) ID() string    { return c.id }
func (c *fakeChat) Name() string  { return c.name }
func (c *fakeChat) IsGroup() bool { return c.group }

func (c *fakeChat) ClearMessages(context.Context) (bool, error) {
	if c.clearErr != nil {
		return false, c.clearErr
	}
	c.cleared++
	return true, nil
}

type fakeFetcher struct {
	media *media.Media
	err   error
	urls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*media.Media, error) {
	f.urls = append(f.urls, rawURL)
	if f.err != nil {
		return nil, f.err
	}
	return f.media, nil
}

var errBoom = errors.New("boom")
