package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	_ "modernc.org/sqlite"

	"wabridge/internal/domain"
	"wabridge/internal/logger"
	"wabridge/internal/metrics"
)

const defaultRestartDelay = 2 * time.Second

// Session states reported by Manager.State besides the event kinds.
const (
	StateStarting = "starting"
	StateStopped  = "stopped"
)

// EventPublisher receives lifecycle transitions. *bus.Broadcaster implements it.
type EventPublisher interface {
	Publish(ev domain.SessionEvent)
}

type ManagerConfig struct {
	StorePath    string
	TerminalQR   bool
	QRWriter     io.Writer // terminal QR output, default stdout
	Gateway      *Gateway
	Events       EventPublisher
	Bus          domain.MessageBus // inbound messages; nil disables
	RestartDelay time.Duration
	Logger       *slog.Logger
}

// Manager owns the whatsmeow client: it initializes it, tears it down, and
// re-initializes it after a disconnect or an authentication failure.
type Manager struct {
	storePath    string
	terminalQR   bool
	qrWriter     io.Writer
	gateway      *Gateway
	events       EventPublisher
	bus          domain.MessageBus
	restartDelay time.Duration
	logger       *slog.Logger

	mu            sync.Mutex
	container     *sqlstore.Container
	client        *whatsmeow.Client
	handlerID     uint32
	cancelClient  context.CancelFunc
	authenticated atomic.Bool
	state         atomic.Value // string
	restartCh     chan string
	stopCh        chan struct{}
	stopOnce      sync.Once
}

func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		storePath:    cfg.StorePath,
		terminalQR:   cfg.TerminalQR,
		qrWriter:     cfg.QRWriter,
		gateway:      cfg.Gateway,
		events:       cfg.Events,
		bus:          cfg.Bus,
		restartDelay: cfg.RestartDelay,
		logger:       cfg.Logger,
		restartCh:    make(chan string, 1),
		stopCh:       make(chan struct{}),
	}
	if m.qrWriter == nil {
		m.qrWriter = os.Stdout
	}
	if m.gateway == nil {
		m.gateway = NewGateway()
	}
	if m.restartDelay <= 0 {
		m.restartDelay = defaultRestartDelay
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.state.Store(StateStarting)
	return m
}

// Gateway returns the SessionGateway backed by this manager's client.
func (m *Manager) Gateway() *Gateway { return m.gateway }

// State is the last lifecycle transition, e.g. "qr", "ready", "disconnected".
func (m *Manager) State() string { return m.state.Load().(string) }

// Start opens the device store, initializes the client and supervises
// restarts until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(m.storePath), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	dsn := "file:" + m.storePath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, newWALogger(m.logger, "store"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	m.mu.Lock()
	m.container = container
	m.mu.Unlock()

	if err := m.initialize(ctx); err != nil {
		return err
	}
	go m.supervise(ctx)
	return nil
}

func (m *Manager) initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, err := m.container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, newWALogger(m.logger, "client"))
	client.EnableAutoReconnect = false
	m.handlerID = client.AddEventHandler(m.handleEvent)
	m.client = client
	m.authenticated.Store(false)
	m.state.Store(StateStarting)
	m.gateway.setClient(client)

	clientCtx, cancel := context.WithCancel(ctx)
	m.cancelClient = cancel

	if client.Store.ID == nil {
		qrCh, err := client.GetQRChannel(clientCtx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go m.watchQR(qrCh)
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	m.logger.Info("session initialized", "paired", client.Store.ID != nil)
	return nil
}

func (m *Manager) teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gateway.setClient(nil)
	if m.cancelClient != nil {
		m.cancelClient()
		m.cancelClient = nil
	}
	if m.client != nil {
		m.client.RemoveEventHandler(m.handlerID)
		m.client.Disconnect()
		m.client = nil
	}
	metrics.SessionConnected.Set(0)
}

// Restart destroys the current client and initializes a new one.
func (m *Manager) Restart(ctx context.Context) error {
	metrics.SessionRestarts.Inc()
	m.teardown()
	return m.initialize(ctx)
}

// Stop disconnects and closes the device store. It is safe to call twice.
func (m *Manager) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.teardown()
		m.state.Store(StateStopped)
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.container != nil {
			err = m.container.Close()
		}
	})
	return err
}

func (m *Manager) supervise(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case reason := <-m.restartCh:
			m.logger.Warn("restarting session", "reason", reason, "delay", m.restartDelay)
			select {
			case <-time.After(m.restartDelay):
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
			if err := m.Restart(ctx); err != nil {
				m.logger.Error("session restart failed", "err", err)
				m.requestRestart("restart failed")
			}
		}
	}
}

// requestRestart never blocks; one pending request is enough.
func (m *Manager) requestRestart(reason string) {
	select {
	case m.restartCh <- reason:
	default:
	}
}

func (m *Manager) publish(kind domain.SessionEventKind, payload string) {
	m.state.Store(string(kind))
	if m.events == nil {
		return
	}
	m.events.Publish(domain.SessionEvent{Kind: kind, Payload: payload, Timestamp: time.Now()})
}

func (m *Manager) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			m.logger.Info("pairing code issued", "expires_in", item.Timeout)
			m.publish(domain.EventQRIssued, item.Code)
			if m.terminalQR {
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, m.qrWriter)
			}
		case whatsmeow.QRChannelSuccess.Event:
			m.logger.Info("pairing succeeded")
		case whatsmeow.QRChannelTimeout.Event:
			m.logger.Warn("pairing window expired")
			m.requestRestart("qr timeout")
		case whatsmeow.QRChannelEventError:
			reason := "pairing error"
			if item.Error != nil {
				reason = item.Error.Error()
			}
			m.publish(domain.EventAuthFailure, reason)
			m.requestRestart(reason)
		default:
			m.publish(domain.EventAuthFailure, item.Event)
			m.requestRestart(item.Event)
		}
	}
}

func (m *Manager) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		m.authenticated.Store(true)
		m.publish(domain.EventAuthenticated, "")
	case *events.Connected:
		if !m.authenticated.Swap(true) {
			m.publish(domain.EventAuthenticated, "")
		}
		metrics.SessionConnected.Set(1)
		m.publish(domain.EventReady, "")
	case *events.PairError:
		m.publish(domain.EventAuthFailure, fmt.Sprint(e.Error))
		m.requestRestart("pair error")
	case *events.LoggedOut:
		metrics.SessionConnected.Set(0)
		m.publish(domain.EventAuthFailure, e.Reason.String())
		m.requestRestart("logged out")
	case *events.ConnectFailure:
		metrics.SessionConnected.Set(0)
		m.publish(domain.EventAuthFailure, fmt.Sprintf("%s %s", e.Reason, e.Message))
		m.requestRestart("connect failure")
	case *events.Disconnected:
		metrics.SessionConnected.Set(0)
		m.publish(domain.EventDisconnected, "connection closed")
		m.requestRestart("disconnected")
	case *events.StreamReplaced:
		// Another client took over the session; reconnecting would fight it.
		metrics.SessionConnected.Set(0)
		m.publish(domain.EventDisconnected, "stream replaced")
	case *events.Message:
		m.onMessage(e)
	}
}

func (m *Manager) onMessage(e *events.Message) {
	if e.Message == nil {
		return
	}
	text := e.Message.GetConversation()
	if text == "" {
		text = e.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return
	}
	metrics.InboundMessages.Inc()

	msg := domain.InboundMessage{
		ChatID:    FormatAddress(e.Info.Chat),
		SenderID:  FormatAddress(e.Info.Sender),
		Content:   text,
		IsGroup:   e.Info.IsGroup,
		FromMe:    e.Info.IsFromMe,
		Timestamp: e.Info.Timestamp,
	}
	m.logger.Debug("inbound message", "chat", logger.MaskAddress(msg.ChatID), "group", msg.IsGroup)
	if m.bus != nil {
		m.bus.Publish(msg)
	}
}
