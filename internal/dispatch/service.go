// Package dispatch orchestrates outbound requests against the messaging
// session: validation, normalization, registration checks, group resolution,
// media fetch, and the send itself. Every request ends in exactly one
// domain.Outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"wabridge/internal/address"
	"wabridge/internal/domain"
	"wabridge/internal/lock"
	"wabridge/internal/logger"
	"wabridge/internal/media"
	"wabridge/internal/metrics"
	"wabridge/internal/validate"
)

// MediaFetcher is satisfied by *media.Fetcher.
type MediaFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*media.Media, error)
}

type ServiceConfig struct {
	Gateway    domain.SessionGateway
	Fetcher    MediaFetcher
	Normalizer address.Normalizer
	Locker     lock.Locker   // nil = no serialization
	Limiter    *rate.Limiter // nil = unlimited
	Logger     *slog.Logger
}

type Service struct {
	gateway    domain.SessionGateway
	guard      *Guard
	resolver   *Resolver
	fetcher    MediaFetcher
	normalizer address.Normalizer
	locker     lock.Locker
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		gateway:    cfg.Gateway,
		guard:      NewGuard(cfg.Gateway),
		resolver:   NewResolver(cfg.Gateway),
		fetcher:    cfg.Fetcher,
		normalizer: cfg.Normalizer,
		locker:     cfg.Locker,
		limiter:    cfg.Limiter,
		logger:     cfg.Logger,
	}
	if s.fetcher == nil {
		s.fetcher = media.NewFetcher(media.FetcherConfig{Logger: cfg.Logger})
	}
	if s.locker == nil {
		s.locker = lock.None{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Dispatch routes req to the handler for its kind and records the result.
func (s *Service) Dispatch(ctx context.Context, req domain.Request) domain.Outcome {
	start := time.Now()

	var out domain.Outcome
	switch r := req.(type) {
	case domain.DirectMessage:
		out = s.SendMessage(ctx, r)
	case domain.GroupMessage:
		out = s.SendGroupMessage(ctx, r)
	case domain.MediaMessage:
		out = s.SendMedia(ctx, r)
	case domain.ClearChat:
		out = s.ClearChat(ctx, r)
	default:
		out = domain.TransportError(fmt.Errorf("unsupported request %T", req))
	}

	metrics.RecordDispatch(string(req.Kind()), string(out.Kind), time.Since(start))
	if out.Kind == domain.OutcomeTransportError {
		s.logger.Error("dispatch failed", "kind", req.Kind(), "err", out.Err)
	} else {
		s.logger.Debug("dispatch finished", "kind", req.Kind(), "outcome", out.Kind, "elapsed", time.Since(start))
	}
	return out
}

// SendMessage sends text to a registered number.
func (s *Service) SendMessage(ctx context.Context, req domain.DirectMessage) domain.Outcome {
	res := validate.SendMessage.Validate(validate.Fields{
		"number":  req.Number,
		"message": req.Text,
	})
	if !res.Valid() {
		return domain.ValidationFailed(res.Errors)
	}

	addr := s.normalizer.Normalize(req.Number)

	unlock, err := s.locker.Lock(ctx, addr.String())
	if err != nil {
		return domain.TransportError(fmt.Errorf("serialize send: %w", err))
	}
	defer unlock()

	registered, err := s.guard.IsRegistered(ctx, addr)
	if err != nil {
		return domain.TransportError(err)
	}
	if !registered {
		s.logger.Info("recipient not registered", "to", logger.MaskAddress(addr.String()))
		return domain.NotRegistered()
	}

	return s.send(ctx, addr.String(), domain.TextContent(req.Text), domain.SendOptions{})
}

// SendGroupMessage sends text to a group addressed by id or name. Group
// membership is not checked against the registration guard.
func (s *Service) SendGroupMessage(ctx context.Context, req domain.GroupMessage) domain.Outcome {
	res := validate.SendGroupMessage.Validate(validate.Fields{
		"id":      req.Ref.ID,
		"name":    req.Ref.Name,
		"message": req.Text,
	})
	if !res.Valid() {
		return domain.ValidationFailed(res.Errors)
	}

	if req.Ref.ID != "" && req.Ref.Name != "" {
		s.logger.Warn("group request has both id and name, using id", "id", req.Ref.ID, "name", req.Ref.Name)
	}

	chatID, err := s.resolver.Resolve(ctx, req.Ref)
	if err != nil {
		var nf *domain.GroupNotFoundError
		if errors.As(err, &nf) {
			return domain.GroupNotFound(nf.Name)
		}
		return domain.TransportError(err)
	}

	unlock, err := s.locker.Lock(ctx, chatID)
	if err != nil {
		return domain.TransportError(fmt.Errorf("serialize send: %w", err))
	}
	defer unlock()

	return s.send(ctx, chatID, domain.TextContent(req.Text), domain.SendOptions{})
}

// SendMedia fetches SourceURL and sends it with an optional caption. The
// number is normalized but not validated or checked for registration.
func (s *Service) SendMedia(ctx context.Context, req domain.MediaMessage) domain.Outcome {
	addr := s.normalizer.Normalize(req.Number)

	m, err := s.fetcher.Fetch(ctx, req.SourceURL)
	if err != nil {
		return domain.TransportError(err)
	}
	att := m.Attachment(media.DefaultFilename)

	unlock, err := s.locker.Lock(ctx, addr.String())
	if err != nil {
		return domain.TransportError(fmt.Errorf("serialize send: %w", err))
	}
	defer unlock()

	return s.send(ctx, addr.String(), domain.Content{Media: &att}, domain.SendOptions{Caption: req.Caption})
}

// ClearChat clears every message of the chat with a registered number. The
// success payload is the boolean status reported by the session.
func (s *Service) ClearChat(ctx context.Context, req domain.ClearChat) domain.Outcome {
	res := validate.ClearMessage.Validate(validate.Fields{"number": req.Number})
	if !res.Valid() {
		return domain.ValidationFailed(res.Errors)
	}

	addr := s.normalizer.Normalize(req.Number)

	unlock, err := s.locker.Lock(ctx, addr.String())
	if err != nil {
		return domain.TransportError(fmt.Errorf("serialize clear: %w", err))
	}
	defer unlock()

	registered, err := s.guard.IsRegistered(ctx, addr)
	if err != nil {
		return domain.TransportError(err)
	}
	if !registered {
		return domain.NotRegistered()
	}

	chat, err := s.gateway.GetChatByID(ctx, addr.String())
	if err != nil {
		return domain.TransportError(fmt.Errorf("get chat: %w", err))
	}
	if err := s.wait(ctx); err != nil {
		return domain.TransportError(err)
	}
	status, err := chat.ClearMessages(ctx)
	if err != nil {
		return domain.TransportError(fmt.Errorf("clear messages: %w", err))
	}
	return domain.Success(status)
}

func (s *Service) send(ctx context.Context, target string, content domain.Content, opts domain.SendOptions) domain.Outcome {
	if err := s.wait(ctx); err != nil {
		return domain.TransportError(err)
	}
	result, err := s.gateway.SendMessage(ctx, target, content, opts)
	if err != nil {
		return domain.TransportError(fmt.Errorf("send message: %w", err))
	}
	s.logger.Info("message sent", "to", logger.MaskAddress(target), "id", result.ID, "media", content.Media != nil)
	return domain.Success(result)
}

func (s *Service) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}
