// Package responder answers a small set of chat commands received by the
// session.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"wabridge/internal/domain"
	"wabridge/internal/logger"
)

const (
	cmdPing       = "!ping"
	cmdGroups     = "!groups"
	greeting      = "good morning"
	replyPong     = "pong"
	replyGreeting = "selamat pagi"
	replyNoGroups = "You are not part of any group yet."
	groupsHeader  = "*YOUR GROUPS*\n\n"
	groupsFooter  = "_You can use the group ID to send a message to the group._"
)

type Config struct {
	Gateway domain.SessionGateway
	Bus     domain.MessageBus
	Logger  *slog.Logger
}

// Responder consumes inbound messages from the bus and replies in the same
// chat. It implements domain.Channel.
type Responder struct {
	gateway domain.SessionGateway
	bus     domain.MessageBus
	logger  *slog.Logger
}

func New(cfg Config) *Responder {
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Responder{gateway: cfg.Gateway, bus: cfg.Bus, logger: l}
}

func (r *Responder) Name() string { return "responder" }

// Start blocks until ctx is done or the bus is closed.
func (r *Responder) Start(ctx context.Context) error {
	in := r.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

// Stop is a no-op; the loop ends with Start's context.
func (r *Responder) Stop() error { return nil }

func (r *Responder) handle(ctx context.Context, msg domain.InboundMessage) {
	if msg.FromMe {
		return
	}
	reply, ok, err := r.Reply(ctx, msg.Content)
	if err != nil {
		r.logger.Error("command failed", "command", msg.Content, "err", err)
		return
	}
	if !ok {
		return
	}
	if _, err := r.gateway.SendMessage(ctx, msg.ChatID, domain.TextContent(reply), domain.SendOptions{}); err != nil {
		r.logger.Error("reply failed", "chat", logger.MaskAddress(msg.ChatID), "err", err)
		return
	}
	r.logger.Debug("replied to command", "command", msg.Content, "chat", logger.MaskAddress(msg.ChatID))
}

// Reply returns the answer to body, or ok=false when body is not a command.
// Matching is exact.
func (r *Responder) Reply(ctx context.Context, body string) (reply string, ok bool, err error) {
	switch body {
	case cmdPing:
		return replyPong, true, nil
	case greeting:
		return replyGreeting, true, nil
	case cmdGroups:
		text, err := r.groupList(ctx)
		if err != nil {
			return "", false, err
		}
		return text, true, nil
	default:
		return "", false, nil
	}
}

func (r *Responder) groupList(ctx context.Context) (string, error) {
	chats, err := r.gateway.GetChats(ctx)
	if err != nil {
		return "", fmt.Errorf("list chats: %w", err)
	}

	var sb strings.Builder
	n := 0
	for _, c := range chats {
		if !c.IsGroup() {
			continue
		}
		if n == 0 {
			sb.WriteString(groupsHeader)
		}
		fmt.Fprintf(&sb, "ID: %s\nName: %s\n\n", c.ID(), c.Name())
		n++
	}
	if n == 0 {
		return replyNoGroups, nil
	}
	sb.WriteString(groupsFooter)
	return sb.String(), nil
}
