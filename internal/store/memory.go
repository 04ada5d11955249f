package store

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps every record in maps guarded by a single mutex. Each
// method is one critical section, so uniqueness checks and inserts cannot
// interleave between callers.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type memState struct {
	users    map[int64]User
	tokens   map[int64]VerificationToken
	sessions map[int64]Session

	nextUserID    int64
	nextTokenID   int64
	nextSessionID int64
}

func newMemState() *memState {
	return &memState{
		users:    make(map[int64]User),
		tokens:   make(map[int64]VerificationToken),
		sessions: make(map[int64]Session),
	}
}

func (m *memState) clone() *memState {
	return &memState{
		users:         maps.Clone(m.users),
		tokens:        maps.Clone(m.tokens),
		sessions:      maps.Clone(m.sessions),
		nextUserID:    m.nextUserID,
		nextTokenID:   m.nextTokenID,
		nextSessionID: m.nextSessionID,
	}
}

func (s *MemoryStore) FindUserByID(ctx context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FindUserByID(ctx, id)
}

func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FindUserByEmail(ctx, email)
}

func (s *MemoryStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FindUserByUsername(ctx, username)
}

func (s *MemoryStore) CreateUser(ctx context.Context, u NewUser) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CreateUser(ctx, u)
}

func (s *MemoryStore) SetEmailVerified(ctx context.Context, userID int64, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SetEmailVerified(ctx, userID, verified)
}

func (s *MemoryStore) SetLastLogin(ctx context.Context, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SetLastLogin(ctx, userID, at)
}

func (s *MemoryStore) SetPasswordHash(ctx context.Context, userID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SetPasswordHash(ctx, userID, hash)
}

func (s *MemoryStore) SetTwoFactorEnabled(ctx context.Context, userID int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SetTwoFactorEnabled(ctx, userID, enabled)
}

func (s *MemoryStore) CreateVerificationToken(ctx context.Context, userID int64, token string, typ TokenType, expiresAt time.Time) (*VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CreateVerificationToken(ctx, userID, token, typ, expiresAt)
}

func (s *MemoryStore) FindVerificationTokenByValue(ctx context.Context, token string) (*VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FindVerificationTokenByValue(ctx, token)
}

func (s *MemoryStore) FindLatestUnusedVerificationToken(ctx context.Context, userID int64, typ TokenType) (*VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FindLatestUnusedVerificationToken(ctx, userID, typ)
}

func (s *MemoryStore) MarkVerificationTokenUsed(ctx context.Context, tokenID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.MarkVerificationTokenUsed(ctx, tokenID)
}

func (s *MemoryStore) IncrementVerificationAttempts(ctx context.Context, tokenID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IncrementVerificationAttempts(ctx, tokenID)
}

func (s *MemoryStore) RevokeUnusedVerificationTokens(ctx context.Context, userID int64, typ TokenType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RevokeUnusedVerificationTokens(ctx, userID, typ)
}

func (s *MemoryStore) CreateSession(ctx context.Context, ns NewSession) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CreateSession(ctx, ns)
}

func (s *MemoryStore) FindSessionByToken(ctx context.Context, token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FindSessionByToken(ctx, token)
}

func (s *MemoryStore) DeleteSessionByToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DeleteSessionByToken(ctx, token)
}

func (s *MemoryStore) DeleteAllSessionsForUser(ctx context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DeleteAllSessionsForUser(ctx, userID)
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DeleteExpired(ctx, now)
}

// WithinTx holds the store lock for the whole of fn and restores a snapshot
// of every map if fn returns an error.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, s.state); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// memState implements Store without locking; MemoryStore serialises access.

func (m *memState) FindUserByID(_ context.Context, id int64) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *memState) FindUserByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memState) FindUserByUsername(_ context.Context, username string) (*User, error) {
	for _, u := range m.users {
		if u.Username != nil && *u.Username == username {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memState) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	if _, err := m.FindUserByEmail(ctx, nu.Email); err == nil {
		return nil, ErrDuplicateEmail
	}
	if nu.Username != nil {
		if _, err := m.FindUserByUsername(ctx, *nu.Username); err == nil {
			return nil, ErrDuplicateUsername
		}
	}

	m.nextUserID++
	u := User{
		ID:            m.nextUserID,
		Email:         nu.Email,
		Username:      cloneString(nu.Username),
		PasswordHash:  nu.PasswordHash,
		Name:          cloneString(nu.Name),
		EmailVerified: nu.EmailVerified,
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}
	m.users[u.ID] = u
	return &u, nil
}

func (m *memState) updateUser(id int64, fn func(*User)) error {
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(&u)
	m.users[id] = u
	return nil
}

func (m *memState) SetEmailVerified(_ context.Context, userID int64, verified bool) error {
	return m.updateUser(userID, func(u *User) { u.EmailVerified = verified })
}

func (m *memState) SetLastLogin(_ context.Context, userID int64, at time.Time) error {
	return m.updateUser(userID, func(u *User) { u.LastLogin = &at })
}

func (m *memState) SetPasswordHash(_ context.Context, userID int64, hash string) error {
	return m.updateUser(userID, func(u *User) { u.PasswordHash = hash })
}

func (m *memState) SetTwoFactorEnabled(_ context.Context, userID int64, enabled bool) error {
	return m.updateUser(userID, func(u *User) { u.TwoFactorEnabled = enabled })
}

func (m *memState) CreateVerificationToken(_ context.Context, userID int64, token string, typ TokenType, expiresAt time.Time) (*VerificationToken, error) {
	m.nextTokenID++
	t := VerificationToken{
		ID:        m.nextTokenID,
		UserID:    userID,
		Token:     token,
		Type:      typ,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	m.tokens[t.ID] = t
	return &t, nil
}

func (m *memState) FindVerificationTokenByValue(_ context.Context, token string) (*VerificationToken, error) {
	for _, t := range m.tokens {
		if t.Token == token {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memState) FindLatestUnusedVerificationToken(_ context.Context, userID int64, typ TokenType) (*VerificationToken, error) {
	var latest *VerificationToken
	for _, t := range m.tokens {
		if t.UserID != userID || t.Type != typ || t.Used {
			continue
		}
		// ids are assigned in creation order
		if latest == nil || t.ID > latest.ID {
			latest = &t
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *memState) MarkVerificationTokenUsed(_ context.Context, tokenID int64) error {
	t, ok := m.tokens[tokenID]
	if !ok {
		return ErrNotFound
	}
	if t.Used {
		return ErrTokenAlreadyUsed
	}
	t.Used = true
	m.tokens[tokenID] = t
	return nil
}

func (m *memState) IncrementVerificationAttempts(_ context.Context, tokenID int64) (int, error) {
	t, ok := m.tokens[tokenID]
	if !ok {
		return 0, ErrNotFound
	}
	t.Attempts++
	m.tokens[tokenID] = t
	return t.Attempts, nil
}

func (m *memState) RevokeUnusedVerificationTokens(_ context.Context, userID int64, typ TokenType) (int, error) {
	revoked := 0
	for id, t := range m.tokens {
		if t.UserID != userID || t.Type != typ || t.Used {
			continue
		}
		t.Used = true
		m.tokens[id] = t
		revoked++
	}
	return revoked, nil
}

func (m *memState) CreateSession(_ context.Context, ns NewSession) (*Session, error) {
	m.nextSessionID++
	s := Session{
		ID:        m.nextSessionID,
		UserID:    ns.UserID,
		Token:     ns.Token,
		ExpiresAt: ns.ExpiresAt,
		IPAddress: cloneString(ns.IPAddress),
		UserAgent: cloneString(ns.UserAgent),
		CreatedAt: time.Now().UTC(),
	}
	m.sessions[s.ID] = s
	return &s, nil
}

func (m *memState) FindSessionByToken(_ context.Context, token string) (*Session, error) {
	for _, s := range m.sessions {
		if s.Token == token {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memState) DeleteSessionByToken(_ context.Context, token string) error {
	for id, s := range m.sessions {
		if s.Token == token {
			delete(m.sessions, id)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memState) DeleteAllSessionsForUser(_ context.Context, userID int64) (int, error) {
	removed := 0
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memState) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for id, s := range m.sessions {
		if s.IsExpired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	for id, t := range m.tokens {
		if !t.IsValid(now) {
			delete(m.tokens, id)
			removed++
		}
	}
	return removed, nil
}

// WithinTx on the unlocked state runs fn inline; the enclosing
// MemoryStore.WithinTx already owns the snapshot.
func (m *memState) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, m)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
