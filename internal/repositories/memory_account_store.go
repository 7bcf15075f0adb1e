package repositories

import (
	"context"
	"strings"
	"sync"

	"comedores/internal/models"
	"comedores/internal/utils"
)

// MemoryAccountStore is for tests and local runs. A single mutex is held for
// the whole of InTx, so transactions are serialized store-wide.
type MemoryAccountStore struct {
	mu     sync.Mutex
	clock  utils.Clock
	nextID int64
	users  map[int64]models.User
	verifs map[int64]models.UserVerification
}

func NewMemoryAccountStore(clock utils.Clock) *MemoryAccountStore {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &MemoryAccountStore{
		clock:  clock,
		users:  make(map[int64]models.User),
		verifs: make(map[int64]models.UserVerification),
	}
}

func (s *MemoryAccountStore) InTx(_ context.Context, fn func(tx AccountTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextID, users, verifs := s.nextID, cloneMap(s.users), cloneMap(s.verifs)
	rollback := func() { s.nextID, s.users, s.verifs = nextID, users, verifs }
	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err := fn(&memoryAccountTx{s: s}); err != nil {
		rollback()
		return err
	}
	return nil
}

func (s *MemoryAccountStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userByEmail(email), nil
}

func (s *MemoryAccountStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *MemoryAccountStore) GetVerification(_ context.Context, userID int64) (*models.UserVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verifs[userID]
	if !ok {
		return nil, nil
	}
	return copyVerification(v), nil
}

func (s *MemoryAccountStore) userByEmail(email string) *models.User {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			u := u
			return &u
		}
	}
	return nil
}

type memoryAccountTx struct {
	s *MemoryAccountStore
}

func (t *memoryAccountTx) FindUserByEmailForUpdate(_ context.Context, email string) (*models.User, error) {
	return t.s.userByEmail(email), nil
}

func (t *memoryAccountTx) EmailTaken(_ context.Context, email string) (bool, error) {
	return t.s.userByEmail(email) != nil, nil
}

func (t *memoryAccountTx) UsernameTaken(_ context.Context, username string) (bool, error) {
	for _, u := range t.s.users {
		if strings.EqualFold(u.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryAccountTx) CreateUser(ctx context.Context, user *models.User) error {
	if taken, _ := t.EmailTaken(ctx, user.Email); taken {
		return ErrEmailExists
	}
	if taken, _ := t.UsernameTaken(ctx, user.Username); taken {
		return ErrUsernameExists
	}
	t.s.nextID++
	user.ID = t.s.nextID
	user.CreatedAt = t.s.clock.Now()
	t.s.users[user.ID] = *user
	return nil
}

func (t *memoryAccountTx) GetOrCreateVerificationForUpdate(_ context.Context, userID int64) (*models.UserVerification, error) {
	v, ok := t.s.verifs[userID]
	if !ok {
		v = models.UserVerification{UserID: userID, UpdatedAt: t.s.clock.Now()}
		t.s.verifs[userID] = v
	}
	return copyVerification(v), nil
}

func (t *memoryAccountTx) SaveVerification(_ context.Context, v *models.UserVerification) error {
	t.s.verifs[v.UserID] = *copyVerification(*v)
	return nil
}

func (t *memoryAccountTx) IncrementFailedAttempts(_ context.Context, userID int64) (int, error) {
	v := t.s.verifs[userID]
	v.UserID = userID
	v.FailedAttempts++
	v.UpdatedAt = t.s.clock.Now()
	t.s.verifs[userID] = v
	return v.FailedAttempts, nil
}

// copyVerification detaches the pointer fields from the stored value.
func copyVerification(v models.UserVerification) *models.UserVerification {
	out := v
	if v.Code != nil {
		c := *v.Code
		out.Code = &c
	}
	if v.ExpiresAt != nil {
		e := *v.ExpiresAt
		out.ExpiresAt = &e
	}
	return &out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
