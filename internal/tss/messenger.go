package tss

import (
	"context"
	"fmt"
	"mpc_session/internal/cryptographic/encryption"
	"mpc_session/internal/model"
	"mpc_session/internal/utils/log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultSendAttempts   = 3
	DefaultSendRetryDelay = 100 * time.Millisecond
	defaultSendTimeout    = 10 * time.Second
)

// RelayMessenger encrypts engine frames and pushes them to the relay.
type RelayMessenger struct {
	ctx       context.Context
	relay     MessageSender
	codec     encryption.Codec
	sessionID string

	attempts   int
	retryDelay time.Duration
	timeout    time.Duration

	seq atomic.Uint64

	mu        sync.RWMutex
	messageID string
}

var _ Messenger = (*RelayMessenger)(nil)

type MessengerOption func(*RelayMessenger)

// WithRetry sets the total number of attempts per frame and the pause between them.
func WithRetry(attempts int, delay time.Duration) MessengerOption {
	return func(m *RelayMessenger) {
		if attempts > 0 {
			m.attempts = attempts
		}
		if delay >= 0 {
			m.retryDelay = delay
		}
	}
}

func WithSendTimeout(d time.Duration) MessengerOption {
	return func(m *RelayMessenger) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewRelayMessenger builds a messenger for one session. The engine calls Send
// without a context, so ctx bounds every send made by this messenger.
func NewRelayMessenger(ctx context.Context, relay MessageSender, codec encryption.Codec, sessionID string, opts ...MessengerOption) *RelayMessenger {
	m := &RelayMessenger{
		ctx:        ctx,
		relay:      relay,
		codec:      codec,
		sessionID:  sessionID,
		attempts:   DefaultSendAttempts,
		retryDelay: DefaultSendRetryDelay,
		timeout:    defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetMessageID scopes every following frame to one keysign ceremony.
func (m *RelayMessenger) SetMessageID(messageID string) {
	m.mu.Lock()
	m.messageID = messageID
	m.mu.Unlock()
}

func (m *RelayMessenger) MessageID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.messageID
}

// Send delivers one frame. Relay failures are logged and swallowed once the
// attempts are used up; the engine's own protocol timeouts take over from there.
func (m *RelayMessenger) Send(from, to, body string) error {
	encrypted, err := encryption.EncryptBody(m.codec, body)
	if err != nil {
		return fmt.Errorf("encrypt message body: %w", err)
	}

	msg := &model.Message{
		SessionID:  m.sessionID,
		From:       from,
		To:         []string{to},
		Body:       encrypted,
		Hash:       encryption.Hash([]byte(body)),
		SequenceNo: m.seq.Add(1),
	}
	messageID := m.MessageID()

	attempt := 0
	op := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		defer cancel()

		err := m.relay.SendMessage(ctx, messageID, msg)
		if err != nil {
			log.Warn("send message failed",
				zap.String("session", m.sessionID),
				zap.String("to", to),
				zap.Uint64("sequence_no", msg.SequenceNo),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryDelay), uint64(m.attempts-1)),
		m.ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		log.Error("giving up on message",
			zap.String("session", m.sessionID),
			zap.String("from", from),
			zap.String("to", to),
			zap.String("hash", msg.Hash),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return nil
	}

	log.Debug("message sent",
		zap.String("session", m.sessionID),
		zap.String("to", to),
		zap.Uint64("sequence_no", msg.SequenceNo),
		zap.Int("body_len", len(body)))
	return nil
}
