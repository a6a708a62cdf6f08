package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mpc_session/internal/model"
	"mpc_session/internal/utils/log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	messageIDHeader  = "message_id"
	messageID2Header = "message-id"

	maxBodyBytes = 4 << 20
)

type (
	HttpServer struct {
		store Store

		// serializes read-modify-write of session participant lists
		mu sync.Mutex
	}
)

func NewHttpServer(store Store) *HttpServer {
	return &HttpServer{
		store: store,
	}
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ping", s.HandlePing()).Methods(http.MethodGet)

	r.HandleFunc("/message/{sessionID}", s.HandlePostMessage()).Methods(http.MethodPost)
	r.HandleFunc("/message/{sessionID}/{participant}", s.HandleGetMessages()).Methods(http.MethodGet)
	r.HandleFunc("/message/{sessionID}/{participant}/{messageID}", s.HandleGetMessages()).Methods(http.MethodGet)
	r.HandleFunc("/message/{sessionID}/{participant}/{hash}", s.HandleDeleteMessage()).Methods(http.MethodDelete)

	r.HandleFunc("/start/{sessionID}", s.HandlePostStart()).Methods(http.MethodPost)
	r.HandleFunc("/start/{sessionID}", s.HandleGetStart()).Methods(http.MethodGet)

	r.HandleFunc("/complete/{sessionID}/keysign", s.HandlePostKeysignComplete()).Methods(http.MethodPost)
	r.HandleFunc("/complete/{sessionID}/keysign", s.HandleGetKeysignComplete()).Methods(http.MethodGet)
	r.HandleFunc("/complete/{sessionID}", s.HandlePostSession("complete")).Methods(http.MethodPost)
	r.HandleFunc("/complete/{sessionID}", s.HandleGetSession("complete")).Methods(http.MethodGet)

	r.HandleFunc("/setup-message/{sessionID}", s.HandlePostSetupMessage()).Methods(http.MethodPost)
	r.HandleFunc("/setup-message/{sessionID}", s.HandleGetSetupMessage()).Methods(http.MethodGet)

	r.HandleFunc("/{sessionID}", s.HandlePostSession("")).Methods(http.MethodPost)
	r.HandleFunc("/{sessionID}", s.HandleGetSession("")).Methods(http.MethodGet)
	r.HandleFunc("/{sessionID}", s.HandleDeleteSession()).Methods(http.MethodDelete)
	return r
}

// Run serves the relay on addr until ctx is cancelled.
func (s *HttpServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("relay listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sessionKey(prefix, sessionID string) string {
	if prefix != "" {
		return fmt.Sprintf("%s-session-%s", prefix, sessionID)
	}
	return fmt.Sprintf("session-%s", sessionID)
}

func startKey(sessionID string) string {
	return fmt.Sprintf("session-%s-start", sessionID)
}

func keysignKey(sessionID, messageID string) string {
	return fmt.Sprintf("keysign-%s-%s-complete", sessionID, messageID)
}

func setupKey(sessionID, messageID, messageID2 string) string {
	key := "setup-" + sessionID
	if messageID != "" {
		key += "-" + messageID
	}
	if messageID2 != "" {
		key += "-" + messageID2
	}
	return key
}

// mailboxScope identifies the messages waiting for one recipient.
func mailboxScope(sessionID, participant, messageID string) string {
	if messageID != "" {
		return fmt.Sprintf("%s-%s-%s", sessionID, participant, messageID)
	}
	return fmt.Sprintf("%s-%s", sessionID, participant)
}

func pathVar(r *http.Request, name string) string {
	return strings.TrimSpace(mux.Vars(r)[name])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (s *HttpServer) HandlePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("relay is running"))
	}
}

func (s *HttpServer) HandlePostSession(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := pathVar(r, "sessionID")
		if sessionID == "" {
			http.Error(w, "sessionID cannot be empty", http.StatusBadRequest)
			return
		}

		var parties []string
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&parties); err != nil {
			http.Error(w, "invalid participant list", http.StatusBadRequest)
			return
		}

		key := sessionKey(prefix, sessionID)
		if err := s.mergeSession(r.Context(), key, sessionID, parties); err != nil {
			log.Error("merge session failed", zap.String("key", key), zap.Error(err))
			http.Error(w, "store session failed", http.StatusInternalServerError)
			return
		}

		log.Debug("session joined", zap.String("key", key), zap.Strings("parties", parties))
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *HttpServer) mergeSession(ctx context.Context, key, sessionID string, parties []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.loadSession(ctx, key)
	if err != nil {
		return err
	}
	if session == nil {
		session = &model.Session{SessionID: sessionID}
	}
	session.Merge(parties)
	return s.saveSession(ctx, key, session)
}

func (s *HttpServer) loadSession(ctx context.Context, key string) (*model.Session, error) {
	v, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}

	var session model.Session
	if err := json.Unmarshal([]byte(v), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *HttpServer) saveSession(ctx context.Context, key string, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, key, string(data))
}

func (s *HttpServer) HandleGetSession(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeSession(w, r, sessionKey(prefix, pathVar(r, "sessionID")))
	}
}

func (s *HttpServer) writeSession(w http.ResponseWriter, r *http.Request, key string) {
	session, err := s.loadSession(r.Context(), key)
	if err != nil {
		log.Error("load session failed", zap.String("key", key), zap.Error(err))
		http.Error(w, "load session failed", http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	participants := session.Participants
	if participants == nil {
		participants = []string{}
	}
	writeJSON(w, http.StatusOK, participants)
}

func (s *HttpServer) HandleDeleteSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := pathVar(r, "sessionID")
		if err := s.store.Del(r.Context(), sessionKey("", sessionID), startKey(sessionID)); err != nil {
			log.Error("delete session failed", zap.String("session", sessionID), zap.Error(err))
			http.Error(w, "delete session failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HandlePostStart records the committee chosen by the initiator. Unlike a join, it
// replaces any previous committee.
func (s *HttpServer) HandlePostStart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := pathVar(r, "sessionID")

		var committee []string
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&committee); err != nil {
			http.Error(w, "invalid committee", http.StatusBadRequest)
			return
		}

		session := &model.Session{SessionID: sessionID, Participants: committee}
		if err := s.saveSession(r.Context(), startKey(sessionID), session); err != nil {
			log.Error("store committee failed", zap.String("session", sessionID), zap.Error(err))
			http.Error(w, "store committee failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *HttpServer) HandleGetStart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeSession(w, r, startKey(pathVar(r, "sessionID")))
	}
}

func (s *HttpServer) HandlePostMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := pathVar(r, "sessionID")
		messageID := r.Header.Get(messageIDHeader)

		var message model.Message
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&message); err != nil {
			log.Error("Unmarshal message failed", zap.Error(err))
			http.Error(w, "invalid message", http.StatusBadRequest)
			return
		}
		if message.Hash == "" || len(message.To) == 0 {
			http.Error(w, "message needs a hash and at least one recipient", http.StatusBadRequest)
			return
		}
		if message.SessionID == "" {
			message.SessionID = sessionID
		}

		for _, to := range message.To {
			scope := mailboxScope(sessionID, to, messageID)
			if err := s.store.PutMessage(r.Context(), scope, &message); err != nil {
				log.Error("put message failed", zap.String("scope", scope), zap.Error(err))
				http.Error(w, "store message failed", http.StatusInternalServerError)
				return
			}
			log.Debug("put message", zap.String("scope", scope), zap.String("hash", message.Hash))
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// HandleGetMessages takes the message id from the path segment when present and from
// the message_id header otherwise.
func (s *HttpServer) HandleGetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := pathVar(r, "messageID")
		if messageID == "" {
			messageID = r.Header.Get(messageIDHeader)
		}
		scope := mailboxScope(pathVar(r, "sessionID"), pathVar(r, "participant"), messageID)

		messages, err := s.store.ListMessages(r.Context(), scope)
		if err != nil {
			log.Error("list messages failed", zap.String("scope", scope), zap.Error(err))
			http.Error(w, "list messages failed", http.StatusInternalServerError)
			return
		}
		if messages == nil {
			messages = []*model.Message{}
		}
		writeJSON(w, http.StatusOK, messages)
	}
}

func (s *HttpServer) HandleDeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := mailboxScope(pathVar(r, "sessionID"), pathVar(r, "participant"), r.Header.Get(messageIDHeader))
		hash := pathVar(r, "hash")

		if err := s.store.DeleteMessage(r.Context(), scope, hash); err != nil {
			log.Error("delete message failed", zap.String("scope", scope), zap.Error(err))
			http.Error(w, "delete message failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *HttpServer) HandlePostKeysignComplete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := pathVar(r, "sessionID")
		messageID := r.Header.Get(messageIDHeader)
		if messageID == "" {
			http.Error(w, "message_id cannot be empty", http.StatusBadRequest)
			return
		}

		data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}
		if err := s.store.Set(r.Context(), keysignKey(sessionID, messageID), string(data)); err != nil {
			log.Error("store keysign result failed", zap.String("session", sessionID), zap.Error(err))
			http.Error(w, "store keysign result failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *HttpServer) HandleGetKeysignComplete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := pathVar(r, "sessionID")
		messageID := r.Header.Get(messageIDHeader)
		if messageID == "" {
			http.Error(w, "message_id cannot be empty", http.StatusBadRequest)
			return
		}
		s.writeValue(w, r, keysignKey(sessionID, messageID), "application/json")
	}
}

func (s *HttpServer) HandlePostSetupMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := setupKey(pathVar(r, "sessionID"), r.Header.Get(messageIDHeader), r.Header.Get(messageID2Header))

		data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}
		if err := s.store.Set(r.Context(), key, string(data)); err != nil {
			log.Error("store setup message failed", zap.String("key", key), zap.Error(err))
			http.Error(w, "store setup message failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *HttpServer) HandleGetSetupMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := setupKey(pathVar(r, "sessionID"), r.Header.Get(messageIDHeader), r.Header.Get(messageID2Header))
		s.writeValue(w, r, key, "text/plain")
	}
}

func (s *HttpServer) writeValue(w http.ResponseWriter, r *http.Request, key, contentType string) {
	v, ok, err := s.store.Get(r.Context(), key)
	if err != nil {
		log.Error("load value failed", zap.String("key", key), zap.Error(err))
		http.Error(w, "load failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(v))
}
