package model

type (
	Session struct {
		SessionID    string   `json:"session_id,omitempty"`
		Participants []string `json:"participants,omitempty"`
	}

	KeysignResponse struct {
		Msg          string `json:"msg"`
		R            string `json:"r"`
		S            string `json:"s"`
		DerSignature string `json:"der_signature"`
		RecoveryID   string `json:"recovery_id"`
	}
)

// Merge adds the parties that are not yet present, keeping join order.
func (s *Session) Merge(parties []string) {
	for _, p := range parties {
		found := false
		for _, existing := range s.Participants {
			if existing == p {
				found = true
				break
			}
		}
		if !found {
			s.Participants = append(s.Participants, p)
		}
	}
}
