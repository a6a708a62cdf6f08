package tss

import (
	"context"
	"errors"
	"fmt"
	"mpc_session/internal/cryptographic/encryption"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPuller(t *testing.T, relay *fakeRelay, engine *fakeEngine, codec encryption.Codec) *MessagePuller {
	t.Helper()
	p, err := NewMessagePuller(relay, engine, codec, "session", "local", 5*time.Millisecond)
	require.NoError(t, err)
	return p
}

func TestPullerAppliesOnceAcrossRedelivery(t *testing.T) {
	codec := newTestCodec(t)
	msg := sealedMessage(t, codec, "alice", 1, "round-1")
	relay := &fakeRelay{keepOnDelete: true}
	relay.pending = append(relay.pending, msg, msg)
	engine := &fakeEngine{}

	p := newTestPuller(t, relay, engine, codec)

	ctx := context.Background()
	require.NoError(t, p.pollOnce(ctx, ""))
	require.NoError(t, p.pollOnce(ctx, ""))

	assert.Equal(t, []string{"round-1"}, engine.Applied())
	assert.Equal(t, []string{msg.Hash}, relay.deletedHashes())
}

func TestPullerScopesDedupByMessageID(t *testing.T) {
	codec := newTestCodec(t)
	msg := sealedMessage(t, codec, "alice", 1, "round-1")
	relay := &fakeRelay{keepOnDelete: true}
	relay.pending = append(relay.pending, msg)
	engine := &fakeEngine{}

	p := newTestPuller(t, relay, engine, codec)

	ctx := context.Background()
	require.NoError(t, p.pollOnce(ctx, "m1"))
	require.NoError(t, p.pollOnce(ctx, "m2"))
	require.NoError(t, p.pollOnce(ctx, "m2"))

	assert.Len(t, engine.Applied(), 2)
}

func TestPullerAppliesInSequenceOrder(t *testing.T) {
	codec := newTestCodec(t)
	relay := &fakeRelay{}
	for _, seq := range []uint64{5, 3, 1, 4, 2} {
		relay.pending = append(relay.pending, sealedMessage(t, codec, "alice", seq, fmt.Sprintf("frame-%d", seq)))
	}
	engine := &fakeEngine{}

	p := newTestPuller(t, relay, engine, codec)
	require.NoError(t, p.pollOnce(context.Background(), ""))

	assert.Equal(t, []string{"frame-1", "frame-2", "frame-3", "frame-4", "frame-5"}, engine.Applied())
	assert.Empty(t, relay.pending)
}

func TestPullerSkipsUndecryptableMessage(t *testing.T) {
	codec := newTestCodec(t)
	bad := sealedMessage(t, newTestCodec(t), "mallory", 1, "forged")
	good := sealedMessage(t, codec, "alice", 2, "round-1")
	relay := &fakeRelay{}
	relay.pending = append(relay.pending, bad, good)
	engine := &fakeEngine{}

	p := newTestPuller(t, relay, engine, codec)
	require.NoError(t, p.pollOnce(context.Background(), ""))
	require.NoError(t, p.pollOnce(context.Background(), ""))

	assert.Equal(t, []string{"round-1"}, engine.Applied())
	// only applied messages are acknowledged
	assert.Equal(t, []string{good.Hash}, relay.deletedHashes())
}

func TestPullerRecordsEngineError(t *testing.T) {
	codec := newTestCodec(t)
	msg := sealedMessage(t, codec, "alice", 1, "round-1")
	relay := &fakeRelay{}
	relay.pending = append(relay.pending, msg)
	engineErr := errors.New("bad round")
	engine := &fakeEngine{err: engineErr}

	p := newTestPuller(t, relay, engine, codec)
	require.NoError(t, p.pollOnce(context.Background(), ""))
	require.NoError(t, p.pollOnce(context.Background(), ""))

	assert.Len(t, engine.Applied(), 1)
	assert.Empty(t, relay.deletedHashes())
	require.ErrorIs(t, p.Err(), engineErr)
}

func TestPullerSurvivesFetchFailures(t *testing.T) {
	codec := newTestCodec(t)
	relay := &fakeRelay{fetchFailures: 3}
	relay.pending = append(relay.pending, sealedMessage(t, codec, "alice", 1, "round-1"))
	engine := &fakeEngine{}

	p := newTestPuller(t, relay, engine, codec)
	p.PullMessages(context.Background(), "")
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(engine.Applied()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPullerStop(t *testing.T) {
	relay := &fakeRelay{}
	p := newTestPuller(t, relay, &fakeEngine{}, newTestCodec(t))

	p.PullMessages(context.Background(), "")
	require.Eventually(t, func() bool {
		relay.mu.Lock()
		defer relay.mu.Unlock()
		return relay.fetchCalls > 0
	}, time.Second, 5*time.Millisecond)

	p.Stop()
	relay.mu.Lock()
	calls := relay.fetchCalls
	relay.mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Equal(t, calls, relay.fetchCalls)

	// stopping twice is harmless
	p.Stop()
}

func TestPullerStopsWithContext(t *testing.T) {
	relay := &fakeRelay{}
	p := newTestPuller(t, relay, &fakeEngine{}, newTestCodec(t))

	ctx, cancel := context.WithCancel(context.Background())
	p.PullMessages(ctx, "")
	cancel()

	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("puller kept running after cancellation")
	}
}
