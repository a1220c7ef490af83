package session

import (
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ErrEmptyUser marks an address with no user part, such as "@c.us".
var ErrEmptyUser = errors.New("empty user")

// ParseAddress converts a canonical "<digits>@c.us" or "<id>@g.us" string
// into a whatsmeow JID.
func ParseAddress(addr string) (types.JID, error) {
	if !strings.Contains(addr, "@") {
		return types.JID{}, fmt.Errorf("invalid address %q: missing server", addr)
	}
	jid, err := types.ParseJID(addr)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if jid.Server == types.LegacyUserServer {
		jid.Server = types.DefaultUserServer
	}
	if jid.User == "" {
		return types.JID{}, fmt.Errorf("invalid address %q: %w", addr, ErrEmptyUser)
	}
	return jid, nil
}

// FormatAddress is the inverse of ParseAddress for user and group JIDs.
// Device suffixes are dropped.
func FormatAddress(jid types.JID) string {
	jid = jid.ToNonAD()
	if jid.Server == types.DefaultUserServer {
		jid.Server = types.LegacyUserServer
	}
	return jid.String()
}
