package tss

import (
	"context"
	"mpc_session/internal/model"
	"mpc_session/internal/service/relay"
	"mpc_session/internal/service/server"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relayEngine forwards every frame it receives to the next party, standing in for a
// signing engine that answers each inbound frame.
type relayEngine struct {
	mu       sync.Mutex
	self     string
	peer     string
	messages Messenger
	received []string
}

func (e *relayEngine) ApplyData(data string) error {
	e.mu.Lock()
	e.received = append(e.received, data)
	e.mu.Unlock()

	if data == "ping" {
		return e.messages.Send(e.self, e.peer, "pong")
	}
	return nil
}

func (e *relayEngine) Received() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.received...)
}

func newRelay(t *testing.T) *relay.Client {
	t.Helper()
	store, err := server.NewMemoryStore(server.DefaultMemoryEntries)
	require.NoError(t, err)
	ts := httptest.NewServer(server.NewHttpServer(store).Router())
	t.Cleanup(ts.Close)
	return relay.NewClient(ts.URL, ts.Client())
}

func TestSessionsExchangeFramesThroughRelay(t *testing.T) {
	client := newRelay(t)
	key := newTestKey(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	newParty := func(id string) *Session {
		s, err := NewSession(ctx, SessionConfig{
			SessionID:        "ceremony",
			LocalPartyID:     id,
			EncryptionKeyHex: key,
			EncryptGCM:       true,
			PollInterval:     10 * time.Millisecond,
		}, client, &model.Vault{LocalPartyID: id})
		require.NoError(t, err)
		require.NoError(t, s.Join(ctx))
		return s
	}
	alice := newParty("alice")
	bob := newParty("bob")

	peers, err := alice.Discovery().WaitForParticipants(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, peers)

	aliceEngine := &relayEngine{self: "alice", peer: "bob", messages: alice.Messenger()}
	bobEngine := &relayEngine{self: "bob", peer: "alice", messages: bob.Messenger()}
	require.NoError(t, alice.Start(ctx, aliceEngine, ""))
	require.NoError(t, bob.Start(ctx, bobEngine, ""))

	require.NoError(t, alice.Messenger().Send("alice", "bob", "ping"))

	require.Eventually(t, func() bool {
		return len(aliceEngine.Received()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ping"}, bobEngine.Received())
	assert.Equal(t, []string{"pong"}, aliceEngine.Received())

	// processed frames get acknowledged
	require.Eventually(t, func() bool {
		left, err := client.GetMessages(ctx, "ceremony", "bob", "")
		return err == nil && len(left) == 0
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Stop())
	require.NoError(t, bob.Stop())

	require.NoError(t, alice.MarkComplete(ctx))
	require.NoError(t, bob.MarkComplete(ctx))
	require.NoError(t, alice.WaitAllComplete(ctx, []string{"alice", "bob"}))
}

func TestSessionKeysignScopedByMessageID(t *testing.T) {
	client := newRelay(t)
	key := newTestKey(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := SessionConfig{SessionID: "keysign", EncryptionKeyHex: key, EncryptGCM: true, PollInterval: 10 * time.Millisecond}

	cfg.LocalPartyID = "alice"
	alice, err := NewSession(ctx, cfg, client, nil)
	require.NoError(t, err)
	cfg.LocalPartyID = "bob"
	bob, err := NewSession(ctx, cfg, client, nil)
	require.NoError(t, err)

	bobEngine := &fakeEngine{}
	require.NoError(t, bob.Start(ctx, bobEngine, "msg-hash-2"))
	defer bob.Stop()

	alice.Messenger().SetMessageID("msg-hash-1")
	require.NoError(t, alice.Messenger().Send("alice", "bob", "for-first-message"))
	alice.Messenger().SetMessageID("msg-hash-2")
	require.NoError(t, alice.Messenger().Send("alice", "bob", "for-second-message"))

	require.Eventually(t, func() bool {
		return len(bobEngine.Applied()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"for-second-message"}, bobEngine.Applied())

	pending, err := client.GetMessages(ctx, "keysign", "bob", "msg-hash-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestWaitAllCompleteGivesUp(t *testing.T) {
	fr := &fakeRelay{completed: [][]string{{"alice"}}}
	s, err := NewSession(context.Background(), SessionConfig{
		SessionID:        "s",
		LocalPartyID:     "alice",
		EncryptionKeyHex: newTestKey(t),
		PollInterval:     time.Millisecond,
		CompleteAttempts: 3,
	}, fr, nil)
	require.NoError(t, err)

	err = s.WaitAllComplete(context.Background(), []string{"alice", "bob"})
	require.ErrorIs(t, err, ErrPartiesIncomplete)
}

func TestWaitAllCompleteSucceedsLater(t *testing.T) {
	fr := &fakeRelay{completed: [][]string{{"alice"}, {"alice", "bob"}}}
	s, err := NewSession(context.Background(), SessionConfig{
		SessionID:        "s",
		LocalPartyID:     "alice",
		EncryptionKeyHex: newTestKey(t),
		PollInterval:     time.Millisecond,
		CompleteAttempts: 5,
	}, fr, nil)
	require.NoError(t, err)

	require.NoError(t, s.WaitAllComplete(context.Background(), []string{"alice", "bob"}))
}

func TestNewSessionValidates(t *testing.T) {
	_, err := NewSession(context.Background(), SessionConfig{LocalPartyID: "a", EncryptionKeyHex: "00"}, &fakeRelay{}, nil)
	require.Error(t, err)

	_, err = NewSession(context.Background(), SessionConfig{SessionID: "s", LocalPartyID: "a", EncryptionKeyHex: "zz"}, &fakeRelay{}, nil)
	require.Error(t, err)
}

func TestSessionRestartKeepsDedupCache(t *testing.T) {
	fr := &fakeRelay{keepOnDelete: true}
	s, err := NewSession(context.Background(), SessionConfig{
		SessionID:        "session",
		LocalPartyID:     "local",
		EncryptionKeyHex: newTestKey(t),
		PollInterval:     5 * time.Millisecond,
	}, fr, nil)
	require.NoError(t, err)

	fr.pending = append(fr.pending, sealedMessage(t, s.codec, "alice", 1, "round-1"))
	engine := &fakeEngine{}
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, engine, "m1"))
	require.Eventually(t, func() bool {
		return len(engine.Applied()) == 1
	}, time.Second, time.Millisecond)

	// the frame is still on the relay when inbound delivery restarts
	require.NoError(t, s.Start(ctx, engine, "m1"))
	fetches := func() int {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return fr.fetchCalls
	}
	seen := fetches()
	require.Eventually(t, func() bool {
		return fetches() >= seen+3
	}, time.Second, time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Equal(t, []string{"round-1"}, engine.Applied())
}
