package tss

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"mpc_session/internal/cryptographic/encryption"
	"mpc_session/internal/model"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errRelayDown = errors.New("relay unavailable")

type fakeRelay struct {
	mu sync.Mutex

	participants      [][]string // one entry per GetParticipants call; nil entry fails
	participantsCalls int

	sendErr   error
	sendCalls int
	sent      []*model.Message
	sentIDs   []string

	fetchFailures int
	fetchCalls    int
	pending       []*model.Message
	keepOnDelete  bool
	deleted       []string

	completed [][]string
	joined    []string
}

func (f *fakeRelay) GetParticipants(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.participantsCalls
	f.participantsCalls++
	if i >= len(f.participants) {
		i = len(f.participants) - 1
	}
	if i < 0 || f.participants[i] == nil {
		return nil, errRelayDown
	}
	return append([]string(nil), f.participants[i]...), nil
}

func (f *fakeRelay) SendMessage(_ context.Context, messageID string, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sendCalls++
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	f.sentIDs = append(f.sentIDs, messageID)
	return nil
}

func (f *fakeRelay) GetMessages(_ context.Context, _, _, _ string) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchCalls++
	if f.fetchFailures > 0 {
		f.fetchFailures--
		return nil, errRelayDown
	}
	out := make([]*model.Message, len(f.pending))
	for i, m := range f.pending {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (f *fakeRelay) DeleteMessage(_ context.Context, _, _, hash, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, hash)
	if f.keepOnDelete {
		return nil
	}
	for i, m := range f.pending {
		if m.Hash == hash {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeRelay) StartSession(_ context.Context, _ string, parties []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, parties...)
	return nil
}

func (f *fakeRelay) MarkLocalPartyComplete(_ context.Context, _ string, _ []string) error {
	return nil
}

func (f *fakeRelay) GetCompletedParties(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.completed) == 0 {
		return nil, nil
	}
	c := f.completed[0]
	if len(f.completed) > 1 {
		f.completed = f.completed[1:]
	}
	return c, nil
}

func (f *fakeRelay) deletedHashes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeEngine struct {
	mu      sync.Mutex
	applied []string
	err     error
}

func (e *fakeEngine) ApplyData(data string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, data)
	return e.err
}

func (e *fakeEngine) Applied() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.applied...)
}

func newTestKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return hex.EncodeToString(key)
}

func newTestCodec(t *testing.T) encryption.Codec {
	t.Helper()
	c, err := encryption.NewCodec(newTestKey(t), true)
	require.NoError(t, err)
	return c
}

func sealedMessage(t *testing.T, c encryption.Codec, from string, seq uint64, plaintext string) *model.Message {
	t.Helper()
	body, err := encryption.EncryptBody(c, plaintext)
	require.NoError(t, err)
	return &model.Message{
		SessionID:  "session",
		From:       from,
		To:         []string{"local"},
		Body:       body,
		Hash:       encryption.Hash([]byte(plaintext)),
		SequenceNo: seq,
	}
}
