package tss

import (
	"context"
	"mpc_session/internal/utils/log"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often discovery and the puller poll the relay.
const DefaultPollInterval = time.Second

// Discovery watches the relay for the parties that joined a session.
type Discovery struct {
	relay        ParticipantSource
	sessionID    string
	localPartyID string
	interval     time.Duration
}

func NewDiscovery(relay ParticipantSource, sessionID, localPartyID string, interval time.Duration) *Discovery {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Discovery{
		relay:        relay,
		sessionID:    sessionID,
		localPartyID: localPartyID,
		interval:     interval,
	}
}

// Participants polls the relay until ctx is done and emits the peers seen on every
// tick, local party excluded. A failed poll re-emits the last good list; nothing is
// emitted until the first poll succeeds. Each call starts an independent stream.
func (d *Discovery) Participants(ctx context.Context) <-chan []string {
	out := make(chan []string)

	go func() {
		defer close(out)

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		var last []string
		for {
			if list, ok := d.poll(ctx, last); ok {
				last = list
				select {
				case out <- append([]string(nil), list...):
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

func (d *Discovery) poll(ctx context.Context, last []string) ([]string, bool) {
	parties, err := d.relay.GetParticipants(ctx, d.sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		log.Warn("fetch participants failed",
			zap.String("session", d.sessionID),
			zap.Error(err))
		return last, last != nil
	}

	peers := make([]string, 0, len(parties))
	for _, p := range parties {
		if p != d.localPartyID {
			peers = append(peers, p)
		}
	}
	return peers, true
}

// WaitForParticipants blocks until at least n peers have joined.
func (d *Discovery) WaitForParticipants(ctx context.Context, n int) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for peers := range d.Participants(ctx) {
		if len(peers) >= n {
			return peers, nil
		}
	}
	return nil, ctx.Err()
}
