// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/storage"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// ErrNotDetection is returned when restoring a view from a message that
// carries no detection result.
var ErrNotDetection = errors.New("message has no detection result")

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager tracks the active session and keeps it persisted.
type Manager struct {
	store  *storage.SessionStore
	conv   *model.Conversation
	logger *zap.Logger

	mu sync.Mutex

	// Image view state
	pendingImage string
	activeImage  string
	findings     []model.Finding

	// Persistence tracking
	lastSave    time.Time
	lastSaveErr error
	saves       int
}

// NewManager creates a manager over store. Call Init before use.
func NewManager(store *storage.SessionStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:  store,
		conv:   model.NewConversation("", nil),
		logger: logger,
	}
	m.conv.Subscribe(m.persist)
	return m
}

// persist writes the conversation back after every mutation, streamed
// deltas included. A session switch only loads what is already stored. Save
// failures are logged by the store and remembered here; the in-memory
// conversation stays authoritative.
func (m *Manager) persist(ch model.Change) {
	if ch.Kind == model.ChangeReplace {
		return
	}
	if ch.SessionID == "" {
		return
	}
	err := m.store.Save(ch.SessionID, m.conv.Messages())

	m.mu.Lock()
	m.lastSaveErr = err
	if err == nil {
		m.lastSave = time.Now()
		m.saves++
	}
	m.mu.Unlock()
}

// Conversation returns the live conversation.
func (m *Manager) Conversation() *model.Conversation {
	return m.conv
}

// Store returns the underlying session store.
func (m *Manager) Store() *storage.SessionStore {
	return m.store
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// Init opens the most recent session, creating one when none exist.
func (m *Manager) Init() error {
	sessions := m.store.List()
	if len(sessions) == 0 {
		_, err := m.create()
		return err
	}
	return m.open(sessions[0].ID)
}

// Current returns the active session's metadata.
func (m *Manager) Current() (storage.Session, bool) {
	return m.store.Get(m.conv.SessionID())
}

// CurrentID returns the active session id.
func (m *Manager) CurrentID() string {
	return m.conv.SessionID()
}

// List returns every session, most recent first.
func (m *Manager) List() []storage.Session {
	return m.store.List()
}

// New starts a fresh session. An active session with no messages is reused
// rather than leaving an empty one behind.
func (m *Manager) New() (storage.Session, error) {
	if id := m.conv.SessionID(); id != "" && m.conv.Len() == 0 {
		if s, ok := m.store.Get(id); ok {
			m.resetView()
			return s, nil
		}
	}
	return m.create()
}

func (m *Manager) create() (storage.Session, error) {
	s, err := m.store.Create()
	// Create keeps the session in memory even when the index write fails,
	// so the conversation can proceed.
	m.conv.Replace(s.ID, nil)
	m.resetView()
	if err != nil {
		return s, fmt.Errorf("create session: %w", err)
	}
	m.logger.Debug("session created", zap.String("id", s.ID))
	return s, nil
}

// Switch makes id the active session. Switching to the active session is a
// no-op.
func (m *Manager) Switch(id string) error {
	if id == m.conv.SessionID() {
		return nil
	}
	return m.open(id)
}

func (m *Manager) open(id string) error {
	if _, ok := m.store.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.conv.Replace(id, m.store.Load(id))
	m.resetView()
	m.logger.Debug("session opened", zap.String("id", id), zap.Int("messages", m.conv.Len()))
	return nil
}

// Delete removes a session. Deleting the active one moves to the most recent
// remaining session, or a new one.
func (m *Manager) Delete(id string) error {
	if _, ok := m.store.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delErr := m.store.Delete(id)
	if id != m.conv.SessionID() {
		return delErr
	}
	var err error
	if rest := m.store.List(); len(rest) > 0 {
		err = m.open(rest[0].ID)
	} else {
		_, err = m.create()
	}
	return errors.Join(delErr, err)
}

// ClearAll deletes every session and starts a new one.
func (m *Manager) ClearAll() error {
	if err := m.store.ClearAll(); err != nil {
		return err
	}
	_, err := m.create()
	return err
}

// =============================================================================
// MESSAGE EDITING
// =============================================================================

// DeleteMessage removes message i of the active session.
func (m *Manager) DeleteMessage(i int) error {
	_, err := m.conv.RemoveAt(i)
	return err
}

// EditMessage replaces the text of message i of the active session.
func (m *Manager) EditMessage(i int, text string) error {
	return m.conv.EditText(i, text)
}

// =============================================================================
// IMAGE VIEW STATE
// =============================================================================

// SetPendingImage attaches an image to the next message and shows it.
func (m *Manager) SetPendingImage(url string) {
	m.mu.Lock()
	m.pendingImage = url
	m.mu.Unlock()
	if url != "" {
		m.SetActiveImage(url)
	}
}

// PendingImage returns the image waiting to be sent.
func (m *Manager) PendingImage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingImage
}

// TakePendingImage returns and clears the pending image.
func (m *Manager) TakePendingImage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	url := m.pendingImage
	m.pendingImage = ""
	return url
}

// SetActiveImage shows url. Findings are cleared only when the image
// actually changes, since they belong to the previous image.
func (m *Manager) SetActiveImage(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeImage != url {
		m.activeImage = url
		m.findings = nil
	}
}

// SetFindings overlays findings on the active image. An empty set is kept
// distinct from "not detected yet".
func (m *Manager) SetFindings(findings []model.Finding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findings = append([]model.Finding{}, findings...)
}

// ActiveImage returns the shown image and its findings. Findings are nil
// until a detection has run on the image.
func (m *Manager) ActiveImage() (string, []model.Finding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findings == nil {
		return m.activeImage, nil
	}
	return m.activeImage, append([]model.Finding{}, m.findings...)
}

// RestoreDetectionView shows the image and findings recorded on message i.
func (m *Manager) RestoreDetectionView(i int) error {
	msg, ok := m.conv.At(i)
	if !ok {
		return fmt.Errorf("message %d: %w", i, model.ErrIndexOutOfRange)
	}
	if !msg.IsDetectionResult() {
		return ErrNotDetection
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeImage = msg.RelatedImage
	m.findings = append([]model.Finding{}, msg.RelatedFindings...)
	return nil
}

// LatestDetection returns the index of the newest detection message, or -1.
func (m *Manager) LatestDetection() int {
	msgs := m.conv.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsDetectionResult() {
			return i
		}
	}
	return -1
}

func (m *Manager) resetView() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingImage = ""
	m.activeImage = ""
	m.findings = nil
}

// =============================================================================
// STATUS
// =============================================================================

// Status summarizes the manager for status bars.
type Status struct {
	SessionID string
	Title     string
	Messages  int
	LastSave  time.Time
	Saves     int
	SaveError error
	HasImage  bool
	Findings  int
	Modified  time.Time
}

// GetStatus returns the current status.
func (m *Manager) GetStatus() Status {
	st := Status{SessionID: m.conv.SessionID(), Messages: m.conv.Len()}
	if s, ok := m.Current(); ok {
		st.Title = s.Title
		st.Modified = s.Modified()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st.LastSave = m.lastSave
	st.Saves = m.saves
	st.SaveError = m.lastSaveErr
	st.HasImage = m.activeImage != ""
	st.Findings = len(m.findings)
	return st
}

// FormatAge returns a short relative time such as "5m" or "3d".
func FormatAge(t time.Time, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
