package main

import (
	"fmt"
	"mpc_session/internal/tss"
	"mpc_session/internal/utils/log"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const greetingPrefix = "hello:"

// greetingEngine stands in for the signing library: it exchanges one frame with every
// peer and records the round in local state once all peers answered.
type greetingEngine struct {
	local     string
	peers     []string
	messenger tss.Messenger
	state     tss.LocalStateAccessor

	mu    sync.Mutex
	heard map[string]bool
	done  chan struct{}
}

func newGreetingEngine(local string, peers []string, messenger tss.Messenger, state tss.LocalStateAccessor) *greetingEngine {
	return &greetingEngine{
		local:     local,
		peers:     slices.Clone(peers),
		messenger: messenger,
		state:     state,
		heard:     make(map[string]bool, len(peers)),
		done:      make(chan struct{}),
	}
}

// Greet sends the local party's frame to every peer.
func (e *greetingEngine) Greet() error {
	for _, peer := range e.peers {
		if err := e.messenger.Send(e.local, peer, greetingFrame(e.local, peer)); err != nil {
			return err
		}
	}
	return nil
}

func (e *greetingEngine) ApplyData(data string) error {
	from, to, ok := parseGreeting(data)
	if !ok || to != e.local || !slices.Contains(e.peers, from) {
		return fmt.Errorf("unexpected frame %q", data)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.heard[from] {
		return nil
	}
	e.heard[from] = true
	log.Debug("greeting received", zap.String("from", from))

	if len(e.heard) < len(e.peers) {
		return nil
	}
	if err := e.state.SaveLocalState(e.local, strings.Join(e.peers, ",")); err != nil {
		return err
	}
	close(e.done)
	return nil
}

func (e *greetingEngine) Done() <-chan struct{} {
	return e.done
}

// The recipient is part of the frame so every frame has a distinct hash.
func greetingFrame(from, to string) string {
	return greetingPrefix + from + ">" + to
}

func parseGreeting(data string) (from, to string, ok bool) {
	rest, found := strings.CutPrefix(data, greetingPrefix)
	if !found {
		return "", "", false
	}
	return strings.Cut(rest, ">")
}
