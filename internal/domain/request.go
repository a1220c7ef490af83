package domain

// RequestKind names one of the dispatchable request shapes.
type RequestKind string

const (
	KindDirectMessage RequestKind = "direct_message"
	KindGroupMessage  RequestKind = "group_message"
	KindMediaMessage  RequestKind = "media_message"
	KindClearChat     RequestKind = "clear_chat"
)

// Request is a tagged union over the outbound request shapes.
type Request interface {
	Kind() RequestKind
}

// DirectMessage sends text to a single number.
type DirectMessage struct {
	Number string `json:"number"`
	Text   string `json:"message"`
}

// GroupMessage sends text to a group addressed by id or by name.
type GroupMessage struct {
	Ref  GroupRef
	Text string
}

// MediaMessage sends the content found at SourceURL to a number.
type MediaMessage struct {
	Number    string `json:"number"`
	Caption   string `json:"caption"`
	SourceURL string `json:"file"`
}

// ClearChat clears every message of the chat with a number.
type ClearChat struct {
	Number string `json:"number"`
}

func (DirectMessage) Kind() RequestKind { return KindDirectMessage }
func (GroupMessage) Kind() RequestKind  { return KindGroupMessage }
func (MediaMessage) Kind() RequestKind  { return KindMediaMessage }
func (ClearChat) Kind() RequestKind     { return KindClearChat }

// GroupRef addresses a group either by canonical id or by display name.
// A non-empty ID takes precedence over Name.
type GroupRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ByID reports whether the reference is already a canonical chat id.
func (r GroupRef) ByID() bool { return r.ID != "" }
