package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memData is one snapshot of every table
type memData struct {
	users       map[string]*User
	emailIndex  map[string]string // lower(email) -> user id
	phoneIndex  map[string]string
	roles       map[string]*Role
	roleNames   map[string]string
	assignments []*UserRole
	products    []*Product
}

func newMemData() *memData {
	return &memData{
		users:      make(map[string]*User),
		emailIndex: make(map[string]string),
		phoneIndex: make(map[string]string),
		roles:      make(map[string]*Role),
		roleNames:  make(map[string]string),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.users {
		u := *v
		c.users[k] = &u
	}
	for k, v := range d.emailIndex {
		c.emailIndex[k] = v
	}
	for k, v := range d.phoneIndex {
		c.phoneIndex[k] = v
	}
	for k, v := range d.roles {
		r := *v
		c.roles[k] = &r
	}
	for k, v := range d.roleNames {
		c.roleNames[k] = v
	}
	c.assignments = make([]*UserRole, len(d.assignments))
	for i, v := range d.assignments {
		ur := *v
		c.assignments[i] = &ur
	}
	c.products = d.products // read-only
	return c
}

type memRoot struct {
	txMu sync.Mutex   // one writer at a time
	mu   sync.RWMutex // guards data pointer swaps
	data *memData
}

// MemoryStore implements Store in process memory with the same uniqueness
// and all-or-nothing guarantees as the Postgres schema. Writes run on a
// private copy that replaces the committed snapshot only on success.
type MemoryStore struct {
	root *memRoot
	tx   *memData
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{root: &memRoot{data: newMemData()}}
}

// SeedDefaults loads the same roles and products as the seed migration
func (s *MemoryStore) SeedDefaults(ctx context.Context) error {
	return s.InTx(ctx, func(tx Store) error {
		customerDesc := "Default role for shop customers"
		adminDesc := "Full administrative access"
		for _, role := range []*Role{
			{Name: RoleCustomer, Description: &customerDesc},
			{Name: RoleAdministrator, Description: &adminDesc, IsSystemAdmin: true},
		} {
			if err := tx.Roles().Create(ctx, role); err != nil && !errors.Is(err, ErrDuplicateRole) {
				return err
			}
		}

		d := tx.(*MemoryStore).tx
		if len(d.products) == 0 {
			d.products = []*Product{
				{ID: 1, Name: "Laptop", Price: "999.99"},
				{ID: 2, Name: "Headphones", Price: "79.90"},
				{ID: 3, Name: "Coffee Mug", Price: "12.50"},
			}
		}
		return nil
	})
}

func (s *MemoryStore) Users() UserStore       { return &memUsers{s: s} }
func (s *MemoryStore) Roles() RoleStore       { return &memRoles{s: s} }
func (s *MemoryStore) Products() ProductStore { return &memProducts{s: s} }

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() {}

// InTx runs fn against a private copy and commits it only if fn succeeds
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.root.txMu.Lock()
	defer s.root.txMu.Unlock()

	s.root.mu.RLock()
	work := s.root.data.clone()
	s.root.mu.RUnlock()

	if err := fn(&MemoryStore{root: s.root, tx: work}); err != nil {
		return err
	}

	s.root.mu.Lock()
	s.root.data = work
	s.root.mu.Unlock()
	return nil
}

func (s *MemoryStore) read(fn func(d *memData) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.root.mu.RLock()
	defer s.root.mu.RUnlock()
	return fn(s.root.data)
}

func (s *MemoryStore) write(ctx context.Context, fn func(d *memData) error) error {
	return s.InTx(ctx, func(tx Store) error {
		return fn(tx.(*MemoryStore).tx)
	})
}

type memUsers struct{ s *MemoryStore }

func (m *memUsers) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := m.s.read(func(d *memData) error {
		_, exists = d.emailIndex[NormalizeEmail(email)]
		return nil
	})
	return exists, err
}

func (m *memUsers) Create(ctx context.Context, user *User) error {
	return m.s.write(ctx, func(d *memData) error {
		email := NormalizeEmail(user.Email)
		if _, taken := d.emailIndex[email]; taken {
			return ErrDuplicateEmail
		}
		if user.Phone != nil {
			if _, taken := d.phoneIndex[*user.Phone]; taken {
				return ErrDuplicatePhone
			}
		}

		now := time.Now().UTC()
		user.ID = uuid.New().String()
		user.Email = email
		user.CreatedAt = now
		user.UpdatedAt = now
		if user.PasswordHash != nil {
			user.PasswordUpdatedAt = &now
		}

		stored := *user
		d.users[user.ID] = &stored
		d.emailIndex[email] = user.ID
		if user.Phone != nil {
			d.phoneIndex[*user.Phone] = user.ID
		}
		return nil
	})
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*User, error) {
	var out *User
	err := m.s.read(func(d *memData) error {
		u, ok := d.users[id]
		if !ok {
			return ErrUserNotFound
		}
		c := *u
		out = &c
		return nil
	})
	return out, err
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	var out *User
	err := m.s.read(func(d *memData) error {
		id, ok := d.emailIndex[NormalizeEmail(email)]
		if !ok {
			return ErrUserNotFound
		}
		c := *d.users[id]
		out = &c
		return nil
	})
	return out, err
}

func (m *memUsers) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return m.update(ctx, id, func(u *User, now time.Time) {
		hash := passwordHash
		u.PasswordHash = &hash
		u.PasswordUpdatedAt = &now
	})
}

func (m *memUsers) UpdateLastLogin(ctx context.Context, id string) error {
	return m.update(ctx, id, func(u *User, now time.Time) {
		u.LastLoginAt = &now
	})
}

func (m *memUsers) SetActive(ctx context.Context, id string, active bool) error {
	return m.update(ctx, id, func(u *User, _ time.Time) {
		u.IsActive = active
	})
}

func (m *memUsers) update(ctx context.Context, id string, mutate func(u *User, now time.Time)) error {
	return m.s.write(ctx, func(d *memData) error {
		u, ok := d.users[id]
		if !ok {
			return ErrUserNotFound
		}
		now := time.Now().UTC()
		mutate(u, now)
		u.UpdatedAt = now
		return nil
	})
}

type memRoles struct{ s *MemoryStore }

func (m *memRoles) Create(ctx context.Context, role *Role) error {
	return m.s.write(ctx, func(d *memData) error {
		if _, taken := d.roleNames[role.Name]; taken {
			return ErrDuplicateRole
		}
		now := time.Now().UTC()
		role.ID = uuid.New().String()
		role.CreatedAt = now
		role.UpdatedAt = now

		stored := *role
		d.roles[role.ID] = &stored
		d.roleNames[role.Name] = role.ID
		return nil
	})
}

func (m *memRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	var out *Role
	err := m.s.read(func(d *memData) error {
		id, ok := d.roleNames[name]
		if !ok {
			return ErrRoleNotFound
		}
		c := *d.roles[id]
		out = &c
		return nil
	})
	return out, err
}

func (m *memRoles) GetByID(ctx context.Context, id string) (*Role, error) {
	var out *Role
	err := m.s.read(func(d *memData) error {
		r, ok := d.roles[id]
		if !ok {
			return ErrRoleNotFound
		}
		c := *r
		out = &c
		return nil
	})
	return out, err
}

func (m *memRoles) Assign(ctx context.Context, ur *UserRole) error {
	return m.s.write(ctx, func(d *memData) error {
		// foreign keys
		if _, ok := d.users[ur.UserID]; !ok {
			return ErrUserNotFound
		}
		if _, ok := d.roles[ur.RoleID]; !ok {
			return ErrRoleNotFound
		}
		if ur.AssignedBy != nil {
			if _, ok := d.users[*ur.AssignedBy]; !ok {
				return ErrUserNotFound
			}
		}

		now := time.Now().UTC()
		for _, existing := range d.assignments {
			if existing.UserID != ur.UserID || existing.RoleID != ur.RoleID || !existing.IsActive {
				continue
			}
			if existing.ExpiresAt != nil && !existing.ExpiresAt.After(now) {
				existing.IsActive = false
				continue
			}
			return ErrAlreadyAssigned
		}

		ur.ID = uuid.New().String()
		ur.AssignedAt = now
		ur.IsActive = true

		stored := *ur
		d.assignments = append(d.assignments, &stored)
		return nil
	})
}

func (m *memRoles) Revoke(ctx context.Context, userID, roleID string) error {
	return m.s.write(ctx, func(d *memData) error {
		revoked := false
		for _, ur := range d.assignments {
			if ur.UserID == userID && ur.RoleID == roleID && ur.IsActive {
				ur.IsActive = false
				revoked = true
			}
		}
		if !revoked {
			return ErrAssignmentNotFound
		}
		return nil
	})
}

func (m *memRoles) ActiveRolesFor(ctx context.Context, userID string, now time.Time) ([]*Role, error) {
	roles := make([]*Role, 0)
	err := m.s.read(func(d *memData) error {
		seen := make(map[string]bool)
		for _, ur := range d.assignments {
			if ur.UserID != userID || !ur.ActiveAt(now) || seen[ur.RoleID] {
				continue
			}
			seen[ur.RoleID] = true
			c := *d.roles[ur.RoleID]
			roles = append(roles, &c)
		}
		return nil
	})
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, err
}

func (m *memRoles) ListAssignments(ctx context.Context, userID string) ([]*UserRole, error) {
	out := make([]*UserRole, 0)
	err := m.s.read(func(d *memData) error {
		// appended in assignment order; walk backwards for newest first
		for i := len(d.assignments) - 1; i >= 0; i-- {
			if d.assignments[i].UserID == userID {
				c := *d.assignments[i]
				out = append(out, &c)
			}
		}
		return nil
	})
	return out, err
}

type memProducts struct{ s *MemoryStore }

func (m *memProducts) List(ctx context.Context) ([]*Product, error) {
	out := make([]*Product, 0)
	err := m.s.read(func(d *memData) error {
		for _, p := range d.products {
			c := *p
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

func (m *memProducts) GetByID(ctx context.Context, id int64) (*Product, error) {
	var out *Product
	err := m.s.read(func(d *memData) error {
		for _, p := range d.products {
			if p.ID == id {
				c := *p
				out = &c
				return nil
			}
		}
		return ErrProductNotFound
	})
	return out, err
}
