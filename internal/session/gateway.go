// Package session adapts a whatsmeow client to domain.SessionGateway and
// owns the client's lifecycle.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waSyncAction"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"wabridge/internal/domain"
	"wabridge/internal/media"
)

// waClient is the subset of *whatsmeow.Client the gateway calls.
type waClient interface {
	IsLoggedIn() bool
	GenerateMessageID() types.MessageID
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	IsOnWhatsApp(phones []string) ([]types.IsOnWhatsAppResponse, error)
	GetJoinedGroups() ([]*types.GroupInfo, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	SendAppState(ctx context.Context, patch appstate.PatchInfo) error
}

var _ waClient = (*whatsmeow.Client)(nil)

// Gateway implements domain.SessionGateway on top of the current client.
// Calls fail with domain.ErrSessionNotReady while no paired client is set.
type Gateway struct {
	mu     sync.RWMutex
	client waClient
}

func NewGateway() *Gateway {
	return &Gateway{}
}

func (g *Gateway) setClient(c waClient) {
	g.mu.Lock()
	g.client = c
	g.mu.Unlock()
}

func (g *Gateway) ready() (waClient, error) {
	g.mu.RLock()
	c := g.client
	g.mu.RUnlock()
	if c == nil || !c.IsLoggedIn() {
		return nil, domain.ErrSessionNotReady
	}
	return c, nil
}

func (g *Gateway) SendMessage(ctx context.Context, target string, content domain.Content, opts domain.SendOptions) (*domain.SendResult, error) {
	c, err := g.ready()
	if err != nil {
		return nil, err
	}
	jid, err := ParseAddress(target)
	if err != nil {
		return nil, err
	}

	var msg *waE2E.Message
	if content.Media != nil {
		msg, err = buildMediaMessage(ctx, c, content.Media, opts.Caption)
		if err != nil {
			return nil, err
		}
	} else {
		msg = &waE2E.Message{Conversation: proto.String(content.Text)}
	}

	resp, err := c.SendMessage(ctx, jid, msg, whatsmeow.SendRequestExtra{ID: c.GenerateMessageID()})
	if err != nil {
		return nil, err
	}
	ts := resp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &domain.SendResult{
		ID:        string(resp.ID),
		To:        target,
		Timestamp: ts,
		HasMedia:  content.Media != nil,
	}, nil
}

func buildMediaMessage(ctx context.Context, c waClient, att *domain.Attachment, caption string) (*waE2E.Message, error) {
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	mimeType := media.BaseType(att.MimeType)

	mediaType := whatsmeow.MediaDocument
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		mediaType = whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		mediaType = whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		mediaType = whatsmeow.MediaAudio
	}

	up, err := c.Upload(ctx, data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	switch mediaType {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(att.MimeType),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}, nil
	case whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(att.MimeType),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}, nil
	case whatsmeow.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(att.MimeType),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}, nil
	default:
		name := att.Filename
		if name == "" {
			name = media.DefaultFilename
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(att.MimeType),
			FileName:      proto.String(name),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}, nil
	}
}

func (g *Gateway) IsRegisteredUser(ctx context.Context, addr string) (bool, error) {
	c, err := g.ready()
	if err != nil {
		return false, err
	}
	jid, err := ParseAddress(addr)
	if errors.Is(err, ErrEmptyUser) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	infos, err := c.IsOnWhatsApp([]string{"+" + jid.User})
	if err != nil {
		return false, err
	}
	return len(infos) > 0 && infos[0].IsIn, nil
}

// GetChats lists joined groups. whatsmeow keeps no server-side list of
// one-to-one chats, so only groups are returned.
func (g *Gateway) GetChats(ctx context.Context) ([]domain.Chat, error) {
	c, err := g.ready()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	groups, err := c.GetJoinedGroups()
	if err != nil {
		return nil, err
	}
	chats := make([]domain.Chat, 0, len(groups))
	for _, gi := range groups {
		chats = append(chats, &chat{gateway: g, jid: gi.JID, name: gi.GroupName.Name})
	}
	return chats, nil
}

func (g *Gateway) GetChatByID(ctx context.Context, id string) (domain.Chat, error) {
	if _, err := g.ready(); err != nil {
		return nil, err
	}
	jid, err := ParseAddress(id)
	if err != nil {
		return nil, err
	}
	return &chat{gateway: g, jid: jid, name: jid.User}, nil
}

type chat struct {
	gateway *Gateway
	jid     types.JID
	name    string
}

func (c *chat) ID() string    { return FormatAddress(c.jid) }
func (c *chat) Name() string  { return c.name }
func (c *chat) IsGroup() bool { return c.jid.Server == types.GroupServer }

// ClearMessages sends a clearChat app state mutation covering every message
// up to now. Starred messages and media are kept.
func (c *chat) ClearMessages(ctx context.Context) (bool, error) {
	client, err := c.gateway.ready()
	if err != nil {
		return false, err
	}
	if err := client.SendAppState(ctx, clearChatPatch(c.jid, time.Now())); err != nil {
		return false, err
	}
	return true, nil
}

func clearChatPatch(jid types.JID, now time.Time) appstate.PatchInfo {
	return appstate.PatchInfo{
		Type: appstate.WAPatchRegularHigh,
		Mutations: []appstate.MutationInfo{{
			Index:   []string{appstate.IndexClearChat, jid.String(), "1", "0"},
			Version: 6,
			Value: &waSyncAction.SyncActionValue{
				ClearChatAction: &waSyncAction.ClearChatAction{
					MessageRange: &waSyncAction.SyncActionMessageRange{
						LastMessageTimestamp: proto.Int64(now.Unix()),
					},
				},
			},
		}},
	}
}
