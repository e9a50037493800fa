package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour both Store implementations must share.
// newStore must return a store seeded with the default roles.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	newUser := func(email string) *User {
		hash := "$argon2id$v=19$m=8,t=1,p=1$c2FsdA$aGFzaA"
		return &User{
			Email:        email,
			PasswordHash: &hash,
			FullName:     "A B",
			BirthDate:    time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
			Gender:       GenderFemale,
			IsActive:     true,
		}
	}

	t.Run("create normalizes email and sets timestamps", func(t *testing.T) {
		store := newStore(t)
		u := newUser("  Mixed@Example.COM ")
		require.NoError(t, store.Users().Create(ctx, u))

		assert.NotEmpty(t, u.ID)
		assert.Equal(t, "mixed@example.com", u.Email)
		assert.False(t, u.CreatedAt.IsZero())
		require.NotNil(t, u.PasswordUpdatedAt)

		got, err := store.Users().GetByEmail(ctx, "MIXED@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, GenderFemale, got.Gender)

		exists, err := store.Users().EmailExists(ctx, "mixed@EXAMPLE.com")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("duplicate email differing only in case is rejected", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Users().Create(ctx, newUser("dup@example.com")))

		err := store.Users().Create(ctx, newUser("DUP@example.com"))
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})

	t.Run("duplicate phone is rejected", func(t *testing.T) {
		store := newStore(t)
		phone := "+15550001111"
		u1 := newUser("p1@example.com")
		u1.Phone = &phone
		require.NoError(t, store.Users().Create(ctx, u1))

		u2 := newUser("p2@example.com")
		u2.Phone = &phone
		assert.ErrorIs(t, store.Users().Create(ctx, u2), ErrDuplicatePhone)
	})

	t.Run("missing user", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Users().GetByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = store.Users().GetByID(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.ErrorIs(t, store.Users().SetActive(ctx, "00000000-0000-0000-0000-000000000000", false), ErrUserNotFound)
	})

	t.Run("mutations refresh updated_at", func(t *testing.T) {
		store := newStore(t)
		u := newUser("mut@example.com")
		require.NoError(t, store.Users().Create(ctx, u))

		time.Sleep(2 * time.Millisecond)
		require.NoError(t, store.Users().UpdatePassword(ctx, u.ID, "$argon2id$new"))
		require.NoError(t, store.Users().UpdateLastLogin(ctx, u.ID))
		require.NoError(t, store.Users().SetActive(ctx, u.ID, false))

		got, err := store.Users().GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, got.UpdatedAt.After(u.CreatedAt))
		assert.Equal(t, "$argon2id$new", *got.PasswordHash)
		require.NotNil(t, got.LastLoginAt)
		assert.False(t, got.IsActive)
	})

	t.Run("transaction rolls back every write", func(t *testing.T) {
		store := newStore(t)
		boom := errors.New("boom")

		err := store.InTx(ctx, func(tx Store) error {
			if err := tx.Users().Create(ctx, newUser("tx@example.com")); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		exists, err := store.Users().EmailExists(ctx, "tx@example.com")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("concurrent creates with one email yield one success", func(t *testing.T) {
		store := newStore(t)
		const workers = 8

		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = store.Users().Create(ctx, newUser("race@example.com"))
			}(i)
		}
		wg.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
				continue
			}
			assert.ErrorIs(t, err, ErrDuplicateEmail)
		}
		assert.Equal(t, 1, successes)
	})

	t.Run("role assignment lifecycle", func(t *testing.T) {
		store := newStore(t)
		u := newUser("roles@example.com")
		require.NoError(t, store.Users().Create(ctx, u))

		customer, err := store.Roles().FindByName(ctx, RoleCustomer)
		require.NoError(t, err)

		require.NoError(t, store.Roles().Assign(ctx, &UserRole{UserID: u.ID, RoleID: customer.ID}))
		err = store.Roles().Assign(ctx, &UserRole{UserID: u.ID, RoleID: customer.ID})
		assert.ErrorIs(t, err, ErrAlreadyAssigned)

		roles, err := store.Roles().ActiveRolesFor(ctx, u.ID, time.Now())
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.Equal(t, RoleCustomer, roles[0].Name)

		require.NoError(t, store.Roles().Revoke(ctx, u.ID, customer.ID))
		assert.ErrorIs(t, store.Roles().Revoke(ctx, u.ID, customer.ID), ErrAssignmentNotFound)

		roles, err = store.Roles().ActiveRolesFor(ctx, u.ID, time.Now())
		require.NoError(t, err)
		assert.Empty(t, roles)

		// re-assign after revoke is allowed, history is kept
		require.NoError(t, store.Roles().Assign(ctx, &UserRole{UserID: u.ID, RoleID: customer.ID}))
		history, err := store.Roles().ListAssignments(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.True(t, history[0].IsActive)
		assert.False(t, history[1].IsActive)
	})

	t.Run("assignment references must exist", func(t *testing.T) {
		store := newStore(t)
		u := newUser("refs@example.com")
		require.NoError(t, store.Users().Create(ctx, u))
		customer, err := store.Roles().FindByName(ctx, RoleCustomer)
		require.NoError(t, err)
		ghost := uuid.New().String()

		err = store.Roles().Assign(ctx, &UserRole{UserID: "missing", RoleID: customer.ID})
		assert.ErrorIs(t, err, ErrUserNotFound)
		err = store.Roles().Assign(ctx, &UserRole{UserID: ghost, RoleID: customer.ID})
		assert.ErrorIs(t, err, ErrUserNotFound)
		err = store.Roles().Assign(ctx, &UserRole{UserID: u.ID, RoleID: ghost})
		assert.ErrorIs(t, err, ErrRoleNotFound)
		err = store.Roles().Assign(ctx, &UserRole{UserID: u.ID, RoleID: "missing"})
		assert.ErrorIs(t, err, ErrRoleNotFound)
		err = store.Roles().Assign(ctx, &UserRole{UserID: u.ID, RoleID: customer.ID, AssignedBy: &ghost})
		assert.ErrorIs(t, err, ErrUserNotFound)

		assert.ErrorIs(t, store.Roles().Revoke(ctx, "missing", customer.ID), ErrAssignmentNotFound)
		assert.ErrorIs(t, store.Roles().Revoke(ctx, u.ID, "missing"), ErrAssignmentNotFound)

		roles, err := store.Roles().ActiveRolesFor(ctx, "missing", time.Now())
		require.NoError(t, err)
		assert.Empty(t, roles)
		history, err := store.Roles().ListAssignments(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, history)

		// nothing was written by the rejected attempts
		history, err = store.Roles().ListAssignments(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("expired assignments are not active and do not block", func(t *testing.T) {
		store := newStore(t)
		u := newUser("expiry@example.com")
		require.NoError(t, store.Users().Create(ctx, u))
		admin, err := store.Roles().FindByName(ctx, RoleAdministrator)
		require.NoError(t, err)

		past := time.Now().Add(-time.Hour)
		require.NoError(t, store.Roles().Assign(ctx, &UserRole{UserID: u.ID, RoleID: admin.ID, ExpiresAt: &past}))

		roles, err := store.Roles().ActiveRolesFor(ctx, u.ID, time.Now())
		require.NoError(t, err)
		assert.Empty(t, roles)

		future := time.Now().Add(time.Hour)
		require.NoError(t, store.Roles().Assign(ctx, &UserRole{UserID: u.ID, RoleID: admin.ID, ExpiresAt: &future, AssignedBy: &u.ID}))

		roles, err = store.Roles().ActiveRolesFor(ctx, u.ID, time.Now())
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.True(t, roles[0].IsSystemAdmin)

		// evaluated later than the expiry, the same row grants nothing
		roles, err = store.Roles().ActiveRolesFor(ctx, u.ID, future.Add(time.Minute))
		require.NoError(t, err)
		assert.Empty(t, roles)
	})

	t.Run("unknown role", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Roles().FindByName(ctx, "Nope")
		assert.ErrorIs(t, err, ErrRoleNotFound)
		assert.ErrorIs(t, store.Roles().Create(ctx, &Role{Name: RoleCustomer}), ErrDuplicateRole)
	})

	t.Run("seeded products are readable", func(t *testing.T) {
		store := newStore(t)
		products, err := store.Products().List(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, products)

		p, err := store.Products().GetByID(ctx, products[0].ID)
		require.NoError(t, err)
		assert.Equal(t, products[0].Name, p.Name)

		_, err = store.Products().GetByID(ctx, 999999)
		assert.ErrorIs(t, err, ErrProductNotFound)
	})
}
