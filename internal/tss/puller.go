package tss

import (
	"context"
	"errors"
	"fmt"
	"mpc_session/internal/cryptographic/encryption"
	"mpc_session/internal/model"
	"mpc_session/internal/utils/log"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultDedupCacheSize bounds the keys of applied messages kept by one puller.
const DefaultDedupCacheSize = 1000

// MessagePuller polls the relay for frames addressed to the local party and applies
// each of them to the engine at most once.
//
// A message's key is recorded before it is decrypted or applied, so a frame is never
// applied twice within one process even if it fails halfway or the relay delivers it
// again. The cache does not survive a restart: a frame applied just before a crash
// whose relay delete never landed will be applied again by the next process.
type MessagePuller struct {
	relay        MessageSource
	engine       Engine
	codec        encryption.Codec
	sessionID    string
	localPartyID string
	interval     time.Duration

	applied *lru.Cache[string, struct{}]

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	applyErr error
}

func NewMessagePuller(relay MessageSource, engine Engine, codec encryption.Codec, sessionID, localPartyID string, interval time.Duration) (*MessagePuller, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	applied, err := lru.New[string, struct{}](DefaultDedupCacheSize)
	if err != nil {
		return nil, err
	}
	return &MessagePuller{
		relay:        relay,
		engine:       engine,
		codec:        codec,
		sessionID:    sessionID,
		localPartyID: localPartyID,
		interval:     interval,
		applied:      applied,
	}, nil
}

// PullMessages starts polling in the background, scoped to messageID when it is not
// empty. A running poll is stopped first. Polling ends on Stop or when ctx is done.
func (p *MessagePuller) PullMessages(ctx context.Context, messageID string) {
	p.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.run(ctx, messageID)
	}()
}

// Stop cancels polling and waits for the current cycle to finish.
func (p *MessagePuller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Err returns the first error the engine reported while applying a frame.
func (p *MessagePuller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applyErr
}

func (p *MessagePuller) run(ctx context.Context, messageID string) {
	log.Debug("start pulling messages",
		zap.String("session", p.sessionID),
		zap.String("party", p.localPartyID),
		zap.String("message_id", messageID))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.pollOnce(ctx, messageID); err != nil && ctx.Err() == nil {
			log.Error("fetch messages failed",
				zap.String("session", p.sessionID),
				zap.String("party", p.localPartyID),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			log.Debug("stop pulling messages", zap.String("session", p.sessionID))
			return
		case <-ticker.C:
		}
	}
}

// pollOnce runs one fetch-and-apply cycle. Only a failed fetch is returned.
func (p *MessagePuller) pollOnce(ctx context.Context, messageID string) error {
	msgs, err := p.relay.GetMessages(ctx, p.sessionID, p.localPartyID, messageID)
	if err != nil {
		return err
	}

	// frames of one sender must reach the engine in the order they were produced
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SequenceNo < msgs[j].SequenceNo
	})

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return nil
		}
		p.process(ctx, msg, messageID)
	}
	return nil
}

func (p *MessagePuller) dedupKey(messageID, hash string) string {
	if messageID != "" {
		return fmt.Sprintf("%s-%s-%s-%s", p.sessionID, p.localPartyID, messageID, hash)
	}
	return fmt.Sprintf("%s-%s-%s", p.sessionID, p.localPartyID, hash)
}

func (p *MessagePuller) process(ctx context.Context, msg *model.Message, messageID string) {
	key := p.dedupKey(messageID, msg.Hash)
	if p.applied.Contains(key) {
		log.Debug("message applied before", zap.String("key", key))
		return
	}
	p.applied.Add(key, struct{}{})

	log.Debug("got message",
		zap.String("from", msg.From),
		zap.Strings("to", msg.To),
		zap.Uint64("sequence_no", msg.SequenceNo),
		zap.String("key", key))

	body, err := encryption.DecryptBody(p.codec, msg.Body)
	if err != nil {
		log.Error("decrypt message failed, dropping it",
			zap.String("from", msg.From),
			zap.String("hash", msg.Hash),
			zap.Error(err))
		return
	}

	if err := p.engine.ApplyData(body); err != nil {
		log.Error("apply message failed",
			zap.String("from", msg.From),
			zap.String("hash", msg.Hash),
			zap.Error(err))
		p.mu.Lock()
		if p.applyErr == nil {
			p.applyErr = fmt.Errorf("apply message %s from %s: %w", msg.Hash, msg.From, err)
		}
		p.mu.Unlock()
		return
	}

	if err := p.relay.DeleteMessage(ctx, p.sessionID, p.localPartyID, msg.Hash, messageID); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("delete message failed",
			zap.String("hash", msg.Hash),
			zap.Error(err))
	}
}
