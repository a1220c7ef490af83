package domain

import "time"

// InboundMessage is a text message received by the paired account.
type InboundMessage struct {
	ChatID    string
	SenderID  string
	Content   string
	IsGroup   bool
	FromMe    bool
	Timestamp time.Time
}
