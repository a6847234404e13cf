// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/util"
)

// =============================================================================
// KEYS AND TITLES
// =============================================================================

const (
	SessionIndexKey  = "medgemma_sessions"
	SessionKeyPrefix = "medgemma_session_"

	// TitleMaxRunes is how much of the first user message becomes the title.
	TitleMaxRunes = 20

	TitleNewSession    = "新对话"
	TitleImageAnalysis = "影像分析"
)

// SessionKey returns the key holding a session's messages.
func SessionKey(id string) string {
	return SessionKeyPrefix + id
}

// DeriveTitle names a session after its first user message: the first text
// block truncated to TitleMaxRunes, else TitleImageAnalysis for an
// image-only message, else TitleNewSession.
func DeriveTitle(msgs []model.Message) string {
	for _, m := range msgs {
		if m.Role != model.RoleUser {
			continue
		}
		if text, ok := m.FirstText(); ok {
			return util.TruncateTitle(text, TitleMaxRunes)
		}
		if m.HasImage() {
			return TitleImageAnalysis
		}
		break
	}
	return TitleNewSession
}

// =============================================================================
// SESSION METADATA
// =============================================================================

// Session is one entry of the session index.
type Session struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	LastModified int64  `json:"lastModified"` // unix milliseconds
}

// Modified returns LastModified as a time.
func (s Session) Modified() time.Time {
	return time.UnixMilli(s.LastModified)
}

// =============================================================================
// SESSION STORE
// =============================================================================

// SessionStore keeps the session index in memory, ordered most recently
// modified first, and writes it through to the KV on every change. Write
// failures are logged and leave the in-memory conversation untouched.
type SessionStore struct {
	kv     KV
	logger *zap.Logger

	// Now is the clock used for ids and timestamps.
	Now func() time.Time

	mu       sync.Mutex
	sessions []Session
	lastID   int64
}

// NewSessionStore loads the session index from kv. A missing or corrupt
// index starts empty.
func NewSessionStore(kv KV, logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SessionStore{kv: kv, logger: logger, Now: time.Now}
	s.sessions = s.readIndex()
	for _, sess := range s.sessions {
		if n, err := strconv.ParseInt(sess.ID, 10, 64); err == nil && n > s.lastID {
			s.lastID = n
		}
	}
	return s
}

func (s *SessionStore) readIndex() []Session {
	data, err := s.kv.Get(SessionIndexKey)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			s.logger.Warn("read session index", zap.Error(err))
		}
		return nil
	}
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		s.logger.Warn("corrupt session index, starting empty", zap.Error(err))
		return nil
	}
	return sessions
}

// writeIndex must be called with mu held.
func (s *SessionStore) writeIndex(sessions []Session) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return &PersistenceError{Op: "encode", Key: SessionIndexKey, Err: err}
	}
	if err := s.kv.Set(SessionIndexKey, data); err != nil {
		return &PersistenceError{Op: "write", Key: SessionIndexKey, Err: err}
	}
	s.sessions = sessions
	return nil
}

// nextID returns a millisecond timestamp id, bumped past the previous id
// when two sessions are created within the same millisecond.
func (s *SessionStore) nextID() string {
	n := s.Now().UnixMilli()
	if n <= s.lastID {
		n = s.lastID + 1
	}
	s.lastID = n
	return strconv.FormatInt(n, 10)
}

// List returns the sessions, most recently modified first.
func (s *SessionStore) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Session(nil), s.sessions...)
}

// Get returns the metadata for id.
func (s *SessionStore) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess, true
		}
	}
	return Session{}, false
}

// Load returns the messages of id. Unknown ids yield an empty list.
func (s *SessionStore) Load(id string) []model.Message {
	data, err := s.kv.Get(SessionKey(id))
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			s.logger.Warn("load session", zap.String("session", id), zap.Error(err))
		}
		return []model.Message{}
	}
	var msgs []model.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		s.logger.Warn("corrupt session data", zap.String("session", id), zap.Error(err))
		return []model.Message{}
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs
}

// Create registers a new empty session at the front of the list.
func (s *SessionStore) Create() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	sess := Session{ID: s.nextID(), Title: TitleNewSession, LastModified: now.UnixMilli()}
	next := append([]Session{sess}, s.sessions...)
	if err := s.writeIndex(next); err != nil {
		s.logger.Warn("save session index", zap.String("session", sess.ID), zap.Error(err))
		// Keep the session usable for this process even though the index
		// could not be written.
		s.sessions = next
		return sess, err
	}
	return sess, nil
}

// Save writes the messages of id, then refreshes its title and timestamp
// and moves it to the front. When either write fails the error is logged,
// the metadata update is skipped and the error returned.
func (s *SessionStore) Save(id string, msgs []model.Message) error {
	if id == "" {
		return nil
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	data, err := json.Marshal(msgs)
	if err != nil {
		perr := &PersistenceError{Op: "encode", Key: SessionKey(id), Err: err}
		s.logger.Warn("save session", zap.String("session", id), zap.Error(perr))
		return perr
	}
	if err := s.kv.Set(SessionKey(id), data); err != nil {
		perr := &PersistenceError{Op: "write", Key: SessionKey(id), Err: err}
		s.logger.Warn("save session", zap.String("session", id), zap.Error(perr))
		return perr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := Session{ID: id}
	rest := make([]Session, 0, len(s.sessions)+1)
	for _, existing := range s.sessions {
		if existing.ID == id {
			sess = existing
			continue
		}
		rest = append(rest, existing)
	}
	sess.Title = DeriveTitle(msgs)
	sess.LastModified = s.Now().UnixMilli()

	if err := s.writeIndex(append([]Session{sess}, rest...)); err != nil {
		s.logger.Warn("save session index", zap.String("session", id), zap.Error(err))
		return err
	}
	return nil
}

// Delete removes a session's metadata and messages. Picking the next active
// session is up to the caller.
func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.ID != id {
			next = append(next, sess)
		}
	}

	var firstErr error
	if err := s.kv.Delete(SessionKey(id)); err != nil {
		firstErr = &PersistenceError{Op: "delete", Key: SessionKey(id), Err: err}
		s.logger.Warn("delete session", zap.String("session", id), zap.Error(firstErr))
	}
	if err := s.writeIndex(next); err != nil {
		s.logger.Warn("save session index", zap.String("session", id), zap.Error(err))
		s.sessions = next
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClearAll deletes every session.
func (s *SessionStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.kv.Keys(SessionKeyPrefix)
	if err != nil {
		return &PersistenceError{Op: "list", Key: SessionKeyPrefix, Err: err}
	}
	for _, k := range keys {
		if err := s.kv.Delete(k); err != nil {
			s.logger.Warn("clear session", zap.String("key", k), zap.Error(err))
		}
	}
	if err := s.kv.Delete(SessionIndexKey); err != nil {
		return &PersistenceError{Op: "delete", Key: SessionIndexKey, Err: err}
	}
	s.sessions = nil
	return nil
}
