package tss

import (
	"context"
	"errors"
	"fmt"
	"mpc_session/internal/cryptographic/encryption"
	"mpc_session/internal/model"
	"mpc_session/internal/utils/log"
	"slices"
	"time"

	"go.uber.org/zap"
)

type (
	SessionConfig struct {
		SessionID        string
		LocalPartyID     string
		EncryptionKeyHex string
		EncryptGCM       bool

		PollInterval time.Duration

		SendAttempts   int
		SendRetryDelay time.Duration

		// CompleteAttempts bounds WaitAllComplete, polled once per PollInterval.
		CompleteAttempts int
	}

	// Session wires the transport pieces of one ceremony around a vault.
	Session struct {
		cfg   SessionConfig
		relay Relay
		codec encryption.Codec

		messenger *RelayMessenger
		state     *VaultStateAccessor
		discovery *Discovery
		puller    *MessagePuller
	}
)

var ErrPartiesIncomplete = errors.New("not every party completed the ceremony")

// NewSession prepares the messenger and state accessor the engine is created with.
// ctx bounds every send the messenger makes.
func NewSession(ctx context.Context, cfg SessionConfig, relay Relay, vault *model.Vault) (*Session, error) {
	if cfg.SessionID == "" || cfg.LocalPartyID == "" {
		return nil, errors.New("session id and local party id are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CompleteAttempts <= 0 {
		cfg.CompleteAttempts = 60
	}

	codec, err := encryption.NewCodec(cfg.EncryptionKeyHex, cfg.EncryptGCM)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:       cfg,
		relay:     relay,
		codec:     codec,
		messenger: NewRelayMessenger(ctx, relay, codec, cfg.SessionID, WithRetry(cfg.SendAttempts, cfg.SendRetryDelay)),
		state:     NewVaultStateAccessor(vault),
		discovery: NewDiscovery(relay, cfg.SessionID, cfg.LocalPartyID, cfg.PollInterval),
	}, nil
}

func (s *Session) Messenger() *RelayMessenger {
	return s.messenger
}

func (s *Session) LocalState() *VaultStateAccessor {
	return s.state
}

func (s *Session) Discovery() *Discovery {
	return s.discovery
}

// Join registers the local party with the relay.
func (s *Session) Join(ctx context.Context) error {
	if err := s.relay.StartSession(ctx, s.cfg.SessionID, []string{s.cfg.LocalPartyID}); err != nil {
		return fmt.Errorf("join session %s: %w", s.cfg.SessionID, err)
	}
	return nil
}

// Start begins delivering inbound frames to engine. messageID scopes both directions
// to one keysign ceremony and may be empty.
func (s *Session) Start(ctx context.Context, engine Engine, messageID string) error {
	puller, err := NewMessagePuller(s.relay, engine, s.codec, s.cfg.SessionID, s.cfg.LocalPartyID, s.cfg.PollInterval)
	if err != nil {
		return err
	}

	s.Stop()
	if s.puller != nil {
		// one dedup cache for the life of the session
		puller.applied = s.puller.applied
	}
	s.messenger.SetMessageID(messageID)
	s.puller = puller
	puller.PullMessages(ctx, messageID)
	return nil
}

// Stop ends inbound delivery and returns the first engine error seen, if any.
func (s *Session) Stop() error {
	if s.puller == nil {
		return nil
	}
	s.puller.Stop()
	return s.puller.Err()
}

func (s *Session) MarkComplete(ctx context.Context) error {
	return s.relay.MarkLocalPartyComplete(ctx, s.cfg.SessionID, []string{s.cfg.LocalPartyID})
}

// WaitAllComplete polls the relay until every committee member reported completion.
func (s *Session) WaitAllComplete(ctx context.Context, committee []string) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < s.cfg.CompleteAttempts; attempt++ {
		completed, err := s.relay.GetCompletedParties(ctx, s.cfg.SessionID)
		if err != nil {
			log.Warn("fetch completed parties failed", zap.String("session", s.cfg.SessionID), zap.Error(err))
		} else if containsAll(completed, committee) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return ErrPartiesIncomplete
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
