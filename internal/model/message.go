package model

type (
	// Message is one unit of ceremony traffic as stored by the relay. Body is the
	// base64-encoded ciphertext; Hash is the digest of the plaintext body.
	Message struct {
		SessionID  string   `json:"session_id,omitempty"`
		From       string   `json:"from,omitempty"`
		To         []string `json:"to,omitempty"`
		Body       string   `json:"body,omitempty"`
		Hash       string   `json:"hash"`
		SequenceNo uint64   `json:"sequence_no"`
	}
)
