package domain

import "context"

// Channel is a long-running I/O surface (HTTP API, chat responder) started by serve.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
