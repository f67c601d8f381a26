package account

import (
	"context"
	"sync"
	"time"

	"github.com/urd-project/urd/internal/protocol"
)

// FirstAccountID is the lowest id handed out to accounts.
const FirstAccountID uint32 = 2000000

// OpenStore accepts any non-empty user id with any password. Each user id
// keeps the same account id for the life of the process.
type OpenStore struct {
	mu     sync.Mutex
	ids    map[string]uint32
	nextID uint32
	level  uint32
	sex    protocol.Sex
}

// NewOpenStore creates an open store that grants level and sex to every account.
func NewOpenStore(level uint32, sex protocol.Sex) *OpenStore {
	return &OpenStore{
		ids:    make(map[string]uint32),
		nextID: FirstAccountID,
		level:  level,
		sex:    sex,
	}
}

// Authenticate implements Store.
func (s *OpenStore) Authenticate(ctx context.Context, userID, password string) (Account, error) {
	if userID == "" {
		return Account{}, ErrUnknownAccount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.ids[userID]
	if !ok {
		id = s.nextID
		s.nextID++
		s.ids[userID] = id
	}

	return Account{
		ID:        id,
		UserID:    userID,
		Level:     s.level,
		Sex:       s.sex,
		CreatedAt: time.Now(),
	}, nil
}
