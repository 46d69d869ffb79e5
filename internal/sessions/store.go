package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botparty/internal/store"
)

// Turn is one exchange in a session's local context. The backend keeps the
// real history; Context stays empty and exists for forward compatibility.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session identifies a conversation with the LLM app for one channel.
type Session struct {
	ID      string `json:"session_id"`
	Context []Turn `json:"context"`
}

// Store maps channel ids to sessions for a single agent.
// It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	newID    func() string

	// optional write-through persistence of session ids
	persist  store.SessionIDStore
	agent    string
	platform string
}

// Option configures a Store.
type Option func(*Store)

// WithPersistence writes every new session id through to ids and restores
// previously saved ids for agentName/platform at construction.
func WithPersistence(ids store.SessionIDStore, agentName, platform string) Option {
	return func(s *Store) {
		s.persist = ids
		s.agent = agentName
		s.platform = platform
	}
}

// WithIDGenerator overrides uuid v4 generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// NewStore creates an empty store, loading persisted ids when configured.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.persist != nil {
		s.load()
	}
	return s
}

// GetOrCreate returns the session for channel, creating one on first use.
func (s *Store) GetOrCreate(channel string) Session {
	s.mu.Lock()
	if sess, ok := s.sessions[channel]; ok {
		out := *sess
		s.mu.Unlock()
		return out
	}
	sess := &Session{ID: s.newID(), Context: []Turn{}}
	s.sessions[channel] = sess
	s.save(channel, sess.ID)
	out := *sess
	s.mu.Unlock()
	return out
}

// Reset discards the channel's session and returns a fresh one.
func (s *Store) Reset(channel string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{ID: s.newID(), Context: []Turn{}}
	s.sessions[channel] = sess
	s.save(channel, sess.ID)
	return *sess
}

// Len returns the number of channels with a session.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) load() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ids, err := s.persist.LoadSessionIDs(ctx, KeyPrefix(s.agent, s.platform))
	if err != nil {
		slog.Warn("sessions: load persisted ids failed", "agent", s.agent, "error", err)
		return
	}
	for key, id := range ids {
		_, _, channel := ParseSessionKey(key)
		if channel == "" || id == "" {
			continue
		}
		s.sessions[channel] = &Session{ID: id, Context: []Turn{}}
	}
	slog.Debug("sessions: restored ids", "agent", s.agent, "count", len(s.sessions))
}

// save writes id through to the persistent store. Callers hold s.mu so the
// last write always matches the in-memory session.
func (s *Store) save(channel, id string) {
	if s.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := BuildSessionKey(s.agent, s.platform, channel)
	if err := s.persist.SaveSessionID(ctx, key, id); err != nil {
		slog.Warn("sessions: persist id failed", "key", key, "error", err)
	}
}
