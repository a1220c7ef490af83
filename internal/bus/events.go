package bus

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	qrCode "github.com/skip2/go-qrcode"

	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

// Push notification names.
const (
	NotifyQR            = "qr"
	NotifyMessage       = "message"
	NotifyReady         = "ready"
	NotifyAuthenticated = "authenticated"
)

// Status lines shown to push subscribers.
const (
	MsgConnecting    = "Connecting..."
	MsgQRReceived    = "QR code received, scan to authenticate!"
	MsgReady         = "WhatsApp is ready!"
	MsgAuthenticated = "WhatsApp is authenticated!"
	MsgAuthFailure   = "Auth failure, restarting..."
	MsgDisconnected  = "WhatsApp is disconnected!"
)

const (
	defaultQRPixels = 256
	defaultQueueLen = 16
	qrDataURLPrefix = "data:image/png;base64,"
)

// Notification is one frame delivered to a push subscriber.
type Notification struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Subscriber receives notifications. A Notify error removes the subscriber.
type Subscriber interface {
	ID() string
	Notify(n Notification) error
}

type BroadcasterConfig struct {
	QRSize   int // PNG edge in pixels, default 256
	QueueLen int // pending events per subscriber, default 16
	Logger   *slog.Logger
}

// subscription owns the queue a single drain goroutine writes from.
type subscription struct {
	sub   Subscriber
	queue chan []Notification
	done  chan struct{}
}

// Broadcaster fans session events out to every current subscriber.
// Publish only enqueues; each subscriber is written to by its own goroutine,
// so a stalled peer never holds up the publisher or the other peers.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[string]*subscription
	qrSize   int
	queueLen int
	logger   *slog.Logger
}

func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	b := &Broadcaster{
		subs:     make(map[string]*subscription),
		qrSize:   cfg.QRSize,
		queueLen: cfg.QueueLen,
		logger:   cfg.Logger,
	}
	if b.qrSize <= 0 {
		b.qrSize = defaultQRPixels
	}
	if b.queueLen <= 0 {
		b.queueLen = defaultQueueLen
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Subscribe registers s. A second subscription with the same ID replaces the first.
func (b *Broadcaster) Subscribe(s Subscriber) {
	ss := &subscription{
		sub:   s,
		queue: make(chan []Notification, b.queueLen),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	if old, ok := b.subs[s.ID()]; ok {
		close(old.done)
	}
	b.subs[s.ID()] = ss
	n := len(b.subs)
	b.mu.Unlock()

	go b.drain(ss)
	metrics.PushSubscribers.Set(int64(n))
	b.logger.Debug("push subscriber added", "id", s.ID(), "subscribers", n)
}

func (b *Broadcaster) Unsubscribe(id string) {
	b.remove(id, nil)
}

// remove deletes id when it still maps to ss; a nil ss matches any subscription.
func (b *Broadcaster) remove(id string, ss *subscription) bool {
	b.mu.Lock()
	cur, ok := b.subs[id]
	if ok && (ss == nil || cur == ss) {
		delete(b.subs, id)
		close(cur.done)
	} else {
		ok = false
	}
	n := len(b.subs)
	b.mu.Unlock()
	if ok {
		metrics.PushSubscribers.Set(int64(n))
		b.logger.Debug("push subscriber removed", "id", id, "subscribers", n)
	}
	return ok
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish converts ev into notifications and queues them for every
// subscriber without waiting for delivery. A subscriber whose queue is full
// misses the event; one whose delivery fails is dropped.
func (b *Broadcaster) Publish(ev domain.SessionEvent) {
	notes, err := b.Notifications(ev)
	if err != nil {
		b.logger.Error("session event not published", "kind", ev.Kind, "err", err)
		return
	}
	if len(notes) == 0 {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ss := range b.subs {
		select {
		case ss.queue <- notes:
		default:
			metrics.PushSkipped.Inc()
			b.logger.Warn("push queue full, event skipped", "id", id, "kind", ev.Kind)
		}
	}
}

func (b *Broadcaster) drain(ss *subscription) {
	for {
		select {
		case <-ss.done:
			return
		case notes := <-ss.queue:
			if err := deliver(ss.sub, notes); err != nil {
				b.logger.Debug("dropping push subscriber", "id", ss.sub.ID(), "err", err)
				if b.remove(ss.sub.ID(), ss) {
					metrics.PushDropped.Inc()
				}
				return
			}
		}
	}
}

func deliver(s Subscriber, notes []Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	for _, n := range notes {
		if err := s.Notify(n); err != nil {
			return err
		}
	}
	return nil
}

// Notifications maps a session event to the frames subscribers see.
func (b *Broadcaster) Notifications(ev domain.SessionEvent) ([]Notification, error) {
	switch ev.Kind {
	case domain.EventQRIssued:
		url, err := QRDataURL(ev.Payload, b.qrSize)
		if err != nil {
			return nil, err
		}
		return []Notification{
			{Event: NotifyQR, Data: url},
			{Event: NotifyMessage, Data: MsgQRReceived},
		}, nil
	case domain.EventReady:
		return []Notification{
			{Event: NotifyReady, Data: MsgReady},
			{Event: NotifyMessage, Data: MsgReady},
		}, nil
	case domain.EventAuthenticated:
		return []Notification{
			{Event: NotifyAuthenticated, Data: MsgAuthenticated},
			{Event: NotifyMessage, Data: MsgAuthenticated},
		}, nil
	case domain.EventAuthFailure:
		return []Notification{{Event: NotifyMessage, Data: MsgAuthFailure}}, nil
	case domain.EventDisconnected:
		return []Notification{{Event: NotifyMessage, Data: MsgDisconnected}}, nil
	default:
		return nil, nil
	}
}

// QRDataURL renders a pairing code as a PNG data URL.
func QRDataURL(code string, size int) (string, error) {
	png, err := qrCode.Encode(code, qrCode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return qrDataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}
