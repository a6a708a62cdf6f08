// Package tss moves ceremony frames between the local Signing Engine and the relay.
//
// The engine is a black box: it receives decrypted frames through Engine.ApplyData,
// sends frames through Messenger.Send and reads or writes its key shares through
// LocalStateAccessor. Nothing in this package inspects frame or key-share contents.
package tss

import (
	"context"
	"mpc_session/internal/model"
)

type (
	// Engine is the threshold-signature state machine.
	Engine interface {
		ApplyData(data string) error
	}

	// Messenger is handed to the engine so it can emit frames to a peer.
	Messenger interface {
		Send(from, to, body string) error
	}

	// LocalStateAccessor is handed to the engine so it can load and store its key
	// shares without knowing how they are persisted.
	LocalStateAccessor interface {
		GetLocalState(pubKey string) (string, error)
		SaveLocalState(pubKey, localState string) error
	}

	ParticipantSource interface {
		GetParticipants(ctx context.Context, sessionID string) ([]string, error)
	}

	MessageSender interface {
		SendMessage(ctx context.Context, messageID string, msg *model.Message) error
	}

	MessageSource interface {
		GetMessages(ctx context.Context, sessionID, partyID, messageID string) ([]*model.Message, error)
		DeleteMessage(ctx context.Context, sessionID, partyID, hash, messageID string) error
	}

	// Relay is the part of the relay client a ceremony uses.
	Relay interface {
		ParticipantSource
		MessageSender
		MessageSource

		StartSession(ctx context.Context, sessionID string, parties []string) error
		MarkLocalPartyComplete(ctx context.Context, sessionID string, parties []string) error
		GetCompletedParties(ctx context.Context, sessionID string) ([]string, error)
	}
)
