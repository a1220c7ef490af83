package session

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"wabridge/internal/domain"
)

type sentMsg struct {
	to  types.JID
	msg *waE2E.Message
}

type fakeClient struct {
	loggedIn   bool
	sent       []sentMsg
	sendErr    error
	onWhatsApp map[string]bool
	groups     []*types.GroupInfo
	uploads    []whatsmeow.MediaType
	patches    []appstate.PatchInfo
}

func (f *fakeClient) IsLoggedIn() bool                   { return f.loggedIn }
func (f *fakeClient) GenerateMessageID() types.MessageID { return "3EB0FAKE" }

func (f *fakeClient) SendMessage(_ context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	if f.sendErr != nil {
		return whatsmeow.SendResponse{}, f.sendErr
	}
	f.sent = append(f.sent, sentMsg{to: to, msg: message})
	id := types.MessageID("")
	if len(extra) > 0 {
		id = extra[0].ID
	}
	return whatsmeow.SendResponse{ID: id, Timestamp: time.Unix(1700000000, 0)}, nil
}

func (f *fakeClient) IsOnWhatsApp(phones []string) ([]types.IsOnWhatsAppResponse, error) {
	out := make([]types.IsOnWhatsAppResponse, 0, len(phones))
	for _, p := range phones {
		out = append(out, types.IsOnWhatsAppResponse{Query: p, IsIn: f.onWhatsApp[p]})
	}
	return out, nil
}

func (f *fakeClient) GetJoinedGroups() ([]*types.GroupInfo, error) {
	return f.groups, nil
}

func (f *fakeClient) Upload(_ context.Context, data []byte, mt whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	f.uploads = append(f.uploads, mt)
	return whatsmeow.UploadResponse{URL: "https://mmg.example/x", DirectPath: "/x", FileLength: uint64(len(data))}, nil
}

func (f *fakeClient) SendAppState(_ context.Context, patch appstate.PatchInfo) error {
	f.patches = append(f.patches, patch)
	return nil
}

func readyGateway(c *fakeClient) *Gateway {
	c.loggedIn = true
	g := NewGateway()
	g.setClient(c)
	return g
}

func TestGateway_NotReady(t *testing.T) {
	g := NewGateway()
	_, err := g.SendMessage(context.Background(), "628@c.us", domain.TextContent("x"), domain.SendOptions{})
	assert.ErrorIs(t, err, domain.ErrSessionNotReady)

	g.setClient(&fakeClient{loggedIn: false})
	_, err = g.IsRegisteredUser(context.Background(), "628@c.us")
	assert.ErrorIs(t, err, domain.ErrSessionNotReady)
}

func TestGateway_SendText(t *testing.T) {
	c := &fakeClient{}
	g := readyGateway(c)

	res, err := g.SendMessage(context.Background(), "6281234567890@c.us", domain.TextContent("hello"), domain.SendOptions{})
	require.NoError(t, err)

	assert.Equal(t, "3EB0FAKE", res.ID)
	assert.Equal(t, "6281234567890@c.us", res.To)
	assert.False(t, res.HasMedia)
	require.Len(t, c.sent, 1)
	assert.Equal(t, types.DefaultUserServer, c.sent[0].to.Server)
	assert.Equal(t, "6281234567890", c.sent[0].to.User)
	assert.Equal(t, "hello", c.sent[0].msg.GetConversation())
}

func TestGateway_SendMediaByType(t *testing.T) {
	tests := []struct {
		mime string
		want whatsmeow.MediaType
		check func(t *testing.T, m *waE2E.Message)
	}{
		{"image/png", whatsmeow.MediaImage, func(t *testing.T, m *waE2E.Message) {
			assert.Equal(t, "cap", m.GetImageMessage().GetCaption())
		}},
		{"video/mp4", whatsmeow.MediaVideo, func(t *testing.T, m *waE2E.Message) {
			assert.NotNil(t, m.GetVideoMessage())
		}},
		{"audio/ogg; codecs=opus", whatsmeow.MediaAudio, func(t *testing.T, m *waE2E.Message) {
			assert.Equal(t, "audio/ogg; codecs=opus", m.GetAudioMessage().GetMimetype())
		}},
		{"application/pdf", whatsmeow.MediaDocument, func(t *testing.T, m *waE2E.Message) {
			assert.Equal(t, "Media", m.GetDocumentMessage().GetFileName())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			c := &fakeClient{}
			g := readyGateway(c)
			att := &domain.Attachment{MimeType: tt.mime, Data: base64.StdEncoding.EncodeToString([]byte("bytes"))}

			res, err := g.SendMessage(context.Background(), "628@c.us", domain.Content{Media: att}, domain.SendOptions{Caption: "cap"})
			require.NoError(t, err)
			assert.True(t, res.HasMedia)
			assert.Equal(t, []whatsmeow.MediaType{tt.want}, c.uploads)
			require.Len(t, c.sent, 1)
			tt.check(t, c.sent[0].msg)
		})
	}
}

func TestGateway_SendBadAttachment(t *testing.T) {
	c := &fakeClient{}
	g := readyGateway(c)
	att := &domain.Attachment{MimeType: "image/png", Data: "!!not base64!!"}

	_, err := g.SendMessage(context.Background(), "628@c.us", domain.Content{Media: att}, domain.SendOptions{})
	assert.Error(t, err)
	assert.Empty(t, c.sent)
}

func TestGateway_SendError(t *testing.T) {
	c := &fakeClient{sendErr: errors.New("server returned error 479")}
	g := readyGateway(c)

	_, err := g.SendMessage(context.Background(), "628@c.us", domain.TextContent("x"), domain.SendOptions{})
	assert.EqualError(t, err, "server returned error 479")
}

func TestGateway_IsRegisteredUser(t *testing.T) {
	c := &fakeClient{onWhatsApp: map[string]bool{"+6281": true}}
	g := readyGateway(c)

	ok, err := g.IsRegisteredUser(context.Background(), "6281@c.us")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.IsRegisteredUser(context.Background(), "6282@c.us")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.IsRegisteredUser(context.Background(), "@c.us")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = g.IsRegisteredUser(context.Background(), "not-an-address")
	assert.Error(t, err)
}

func TestGateway_GetChatsReturnsGroups(t *testing.T) {
	c := &fakeClient{groups: []*types.GroupInfo{
		{JID: types.NewJID("120363001", types.GroupServer), GroupName: types.GroupName{Name: "Family"}},
	}}
	g := readyGateway(c)

	chats, err := g.GetChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "120363001@g.us", chats[0].ID())
	assert.Equal(t, "Family", chats[0].Name())
	assert.True(t, chats[0].IsGroup())
}

func TestGateway_CancelledContext(t *testing.T) {
	c := &fakeClient{onWhatsApp: map[string]bool{"+6281": true}}
	g := readyGateway(c)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.GetChats(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = g.IsRegisteredUser(ctx, "6281@c.us")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGateway_ClearMessages(t *testing.T) {
	c := &fakeClient{}
	g := readyGateway(c)

	ch, err := g.GetChatByID(context.Background(), "6281@c.us")
	require.NoError(t, err)
	assert.False(t, ch.IsGroup())
	assert.Equal(t, "6281@c.us", ch.ID())

	ok, err := ch.ClearMessages(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, c.patches, 1)
	p := c.patches[0]
	assert.Equal(t, appstate.WAPatchRegularHigh, p.Type)
	require.Len(t, p.Mutations, 1)
	assert.Equal(t, []string{appstate.IndexClearChat, "6281@s.whatsapp.net", "1", "0"}, p.Mutations[0].Index)
	assert.NotNil(t, p.Mutations[0].Value.GetClearChatAction())
}

func TestParseAndFormatAddress(t *testing.T) {
	jid, err := ParseAddress("6281234@c.us")
	require.NoError(t, err)
	assert.Equal(t, "6281234@s.whatsapp.net", jid.String())
	assert.Equal(t, "6281234@c.us", FormatAddress(jid))

	g, err := ParseAddress("120363001@g.us")
	require.NoError(t, err)
	assert.Equal(t, "120363001@g.us", FormatAddress(g))

	dev := types.JID{User: "6281234", Server: types.DefaultUserServer, Device: 3}
	assert.Equal(t, "6281234@c.us", FormatAddress(dev))

	for _, bad := range []string{"", "6281234", "@c.us"} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
}
