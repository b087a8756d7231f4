package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"sre-platform/internal/models"
)

// MemoryStore keeps everything in process. Records are cloned on the way in
// and out so callers never share maps with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]map[string]models.Document
	order  map[string][]string
	users  map[int]models.User
	nextID int
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]map[string]models.Document),
		order: make(map[string][]string),
		users: make(map[int]models.User),
		now:   time.Now,
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Ping(context.Context) error    { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) List(_ context.Context, collection string, p models.ListParams) (models.ListResult, error) {
	p = p.Normalized()
	field, desc, err := sortKey(p.Sort)
	if err != nil {
		return models.ListResult{}, err
	}
	for f := range p.Filters {
		if err := checkField(f); err != nil {
			return models.ListResult{}, err
		}
	}
	search := foldSearch(p.Search)

	s.mu.RLock()
	var matched []models.Document
	for _, id := range s.order[collection] {
		doc := s.docs[collection][id]
		if !matchFilters(doc, p.Filters) {
			continue
		}
		if search != "" && !strings.Contains(searchText(doc), search) {
			continue
		}
		matched = append(matched, doc)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		c := compareField(matched[i], matched[j], field)
		if c == 0 {
			return matched[i].ID() < matched[j].ID()
		}
		if desc {
			return c > 0
		}
		return c < 0
	})

	total := len(matched)
	start, end := 0, total
	if p.PageSize > 0 {
		start = min(p.Offset(), total)
		end = min(start+p.PageSize, total)
	}
	items := make([]models.Document, 0, end-start)
	for _, doc := range matched[start:end] {
		items = append(items, doc.Clone())
	}
	return models.NewListResult(items, p, total), nil
}

func matchFilters(doc models.Document, filters map[string]string) bool {
	for k, want := range filters {
		if doc.String(k) != want {
			return false
		}
	}
	return true
}

// compareField orders values the way JSON values order in the SQL backends:
// missing < numbers < strings, timestamps compared as instants.
func compareField(a, b models.Document, field string) int {
	if field == "created_at" || field == "updated_at" {
		ta, _ := a.Time(field)
		tb, _ := b.Time(field)
		return ta.Compare(tb)
	}
	va, vb := a[field], b[field]
	ra, rb := rank(va), rank(vb)
	if ra != rb {
		return ra - rb
	}
	switch x := va.(type) {
	case float64:
		y := vb.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		return strings.Compare(x, vb.(string))
	}
	return strings.Compare(fmt.Sprint(va), fmt.Sprint(vb))
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case bool:
		return 3
	default:
		return 4
	}
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, collection string, doc models.Document) (models.Document, error) {
	doc = prepareCreate(collection, doc, s.now())
	id := doc.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[collection][id]; ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrConflict)
	}
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]models.Document)
	}
	s.docs[collection][id] = doc
	s.order[collection] = append(s.order[collection], id)
	return doc.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, patch models.Document) (models.Document, error) {
	return s.Mutate(ctx, collection, id, func(doc models.Document) error {
		doc.Merge(patch.Clone())
		return nil
	})
}

func (s *MemoryStore) Mutate(_ context.Context, collection, id string, fn func(models.Document) error) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.docs[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	next := prev.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	finishUpdate(prev, next, s.now())
	// Normalize whatever fn stored.
	next = next.Clone()
	s.docs[collection][id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[collection][id]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	delete(s.docs[collection], id)
	ids := s.order[collection]
	for i, v := range ids {
		if v == id {
			s.order[collection] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[collection]), nil
}

// User methods

func (s *MemoryStore) CreateUser(_ context.Context, username, password string, role models.Role) (models.User, error) {
	passwordHash, err := models.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return models.User{}, fmt.Errorf("user %q: %w", username, ErrConflict)
		}
	}
	s.nextID++
	now := s.now().UTC()
	user := models.User{
		ID:                 s.nextID,
		Username:           username,
		PasswordHash:       passwordHash,
		Role:               role,
		LastPasswordChange: now,
		CreatedAt:          now,
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return user, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
}

func (s *MemoryStore) GetUsers(context.Context) ([]models.User, error) {
	s.mu.RLock()
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()
	sort.Slice(users, func(i, j int) bool { return users[i].ID > users[j].ID })
	return users, nil
}

// updateUser applies fn to the stored user under the write lock.
func (s *MemoryStore) updateUser(id int, fn func(*models.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err := fn(&user); err != nil {
		return err
	}
	s.users[id] = user
	return nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, id int, username string, role models.Role) error {
	return s.updateUser(id, func(u *models.User) error {
		if username != u.Username {
			for _, other := range s.users {
				if other.Username == username {
					return fmt.Errorf("user %q: %w", username, ErrConflict)
				}
			}
		}
		u.Username = username
		u.Role = role
		return nil
	})
}

func (s *MemoryStore) UpdateUserProfile(_ context.Context, id int, displayName, email string) error {
	return s.updateUser(id, func(u *models.User) error {
		u.DisplayName = displayName
		u.Email = email
		return nil
	})
}

func (s *MemoryStore) UpdateUserPassword(_ context.Context, id int, passwordHash string) error {
	now := s.now().UTC()
	return s.updateUser(id, func(u *models.User) error {
		u.PasswordHash = passwordHash
		u.LastPasswordChange = now
		return nil
	})
}

func (s *MemoryStore) UpdateUser2FA(_ context.Context, id int, totpSecret string, enabled bool) error {
	return s.updateUser(id, func(u *models.User) error {
		u.TOTPSecret = totpSecret
		u.TOTPEnabled = enabled
		return nil
	})
}

func (s *MemoryStore) Disable2FA(ctx context.Context, id int) error {
	return s.UpdateUser2FA(ctx, id, "", false)
}

func (s *MemoryStore) TouchLogin(_ context.Context, id int, at time.Time) error {
	return s.updateUser(id, func(u *models.User) error {
		u.LastLoginAt = at.UTC()
		return nil
	})
}

func (s *MemoryStore) DeleteUser(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	delete(s.users, id)
	return nil
}
