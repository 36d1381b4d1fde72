package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/vovakirdan/chatgate/internal/store"
)

func TestServiceRegisterAndLogin(t *testing.T) {
	v, st, cfg := newTestVerifier(t)
	svc := NewService(st, cfg)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, " Alice ", "Alice@Example.com", "password123", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Name != "Alice" || user.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}

	identity, err := v.Verify(ctx, token)
	if err != nil {
		t.Fatalf("verify registration token: %v", err)
	}
	if identity.ID != user.ID {
		t.Fatalf("expected %s, got %s", user.ID, identity.ID)
	}

	if _, _, err := svc.Register(ctx, "Alice", "alice@example.com", "password123", ""); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
	loggedIn, _, err := svc.Login(ctx, "ALICE@example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loggedIn.ID != user.ID {
		t.Fatalf("expected %s, got %s", user.ID, loggedIn.ID)
	}
}

func TestServiceRegisterValidation(t *testing.T) {
	_, st, cfg := newTestVerifier(t)
	svc := NewService(st, cfg)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "  ", "a@example.com", "password123", ""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, _, err := svc.Register(ctx, "Alice", "a@example.com", "123", ""); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestServiceIssueToken(t *testing.T) {
	v, st, cfg := newTestVerifier(t)
	svc := NewService(st, cfg)
	ctx := context.Background()

	if _, err := svc.IssueToken(ctx, "ghost"); !errors.Is(err, ErrUnknownSubject) {
		t.Fatalf("expected ErrUnknownSubject, got %v", err)
	}

	user, err := st.CreateUser(ctx, "Bob", "bob@example.com", "", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := svc.IssueToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := v.Verify(ctx, token); err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
}

// lookupMissStore hides existing emails from the pre-insert lookup, the way
// a concurrent registration does between lookup and insert.
type lookupMissStore struct {
	store.UserStore
}

func (lookupMissStore) GetUserByEmail(context.Context, string) (*store.User, error) {
	return nil, store.ErrNotFound
}

func TestServiceRegisterLosesInsertRace(t *testing.T) {
	_, st, cfg := newTestVerifier(t)
	svc := NewService(lookupMissStore{UserStore: st}, cfg)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "Alice", "alice@example.com", "password123", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.Register(ctx, "Alice", "ALICE@example.com", "password123", ""); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestServiceCreateAccountNormalizesEmail(t *testing.T) {
	_, st, cfg := newTestVerifier(t)
	svc := NewService(st, cfg)
	ctx := context.Background()

	user, err := svc.CreateAccount(ctx, "Bob", "  Bob@Example.COM ", "password123", "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if user.Email != "bob@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}

	loggedIn, _, err := svc.Login(ctx, "bob@example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loggedIn.ID != user.ID {
		t.Fatalf("expected %s, got %s", user.ID, loggedIn.ID)
	}
}
