package domain

// MessageBus carries inbound chat messages from the session to in-process consumers.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
