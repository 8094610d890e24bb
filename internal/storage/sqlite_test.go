package storage

import (
	"context"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestValidateUsername(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"ab", false},               // too short
		{"waytoolongusername1234", false}, // too long
		{"bad name", false},         // disallowed char
		{"Host", false},             // reserved, case-insensitive
		{"alice_01", true},
	}
	for _, c := range cases {
		if ok, _ := ValidateUsername(c.name); ok != c.want {
			t.Errorf("ValidateUsername(%q) = %v; want %v", c.name, ok, c.want)
		}
	}
}

func TestRegisterAndLoginRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.TryRegister(ctx, "Alice", "pw1", bcrypt.MinCost); err != nil {
		t.Fatalf("TryRegister: %v", err)
	}

	display, err := s.TryLogin(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("TryLogin: %v", err)
	}
	if display != "Alice" {
		t.Fatalf("TryLogin display = %q; want %q", display, "Alice")
	}
}

func TestRegisterDuplicateCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.TryRegister(ctx, "Alice", "pw1", bcrypt.MinCost); err != nil {
		t.Fatalf("TryRegister: %v", err)
	}
	if err := s.TryRegister(ctx, "alice", "pw2", bcrypt.MinCost); err != ErrUsernameTaken {
		t.Fatalf("TryRegister duplicate = %v; want ErrUsernameTaken", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.TryRegister(ctx, "Bob", "correct", bcrypt.MinCost); err != nil {
		t.Fatalf("TryRegister: %v", err)
	}
	if _, err := s.TryLogin(ctx, "Bob", "wrong"); err != ErrWrongPassword {
		t.Fatalf("TryLogin wrong password = %v; want ErrWrongPassword", err)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.TryLogin(context.Background(), "nobody", "pw"); err != ErrUserNotFound {
		t.Fatalf("TryLogin unknown user = %v; want ErrUserNotFound", err)
	}
}

func TestIncrementCountersAndScores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.TryRegister(ctx, "Alice", "pw", bcrypt.MinCost)
	s.TryRegister(ctx, "Bob", "pw", bcrypt.MinCost)

	if err := s.IncrementWins(ctx, "Alice"); err != nil {
		t.Fatalf("IncrementWins: %v", err)
	}
	if err := s.IncrementLosses(ctx, "Bob"); err != nil {
		t.Fatalf("IncrementLosses: %v", err)
	}

	w, l, d, err := s.GetStats(ctx, "Alice")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if w != 1 || l != 0 || d != 0 {
		t.Fatalf("GetStats(Alice) = %d/%d/%d; want 1/0/0", w, l, d)
	}

	scores, err := s.GetAllScores(ctx)
	if err != nil {
		t.Fatalf("GetAllScores: %v", err)
	}
	if len(scores) != 2 || scores[0].Username != "Alice" {
		t.Fatalf("GetAllScores() = %+v; want Alice first", scores)
	}
}

func TestMatchStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1 := "Alice"
	if err := s.SetPlayer1(ctx, &p1); err != nil {
		t.Fatalf("SetPlayer1: %v", err)
	}

	state, err := s.GetMatchState(ctx)
	if err != nil {
		t.Fatalf("GetMatchState: %v", err)
	}
	if state.Player1 == nil || *state.Player1 != "Alice" {
		t.Fatalf("GetMatchState().Player1 = %v; want Alice", state.Player1)
	}
	if state.Player2 != nil || state.CurrentTurn != nil {
		t.Fatalf("GetMatchState() = %+v; want Player2 and CurrentTurn nil", state)
	}

	if err := s.ResetMatchState(ctx); err != nil {
		t.Fatalf("ResetMatchState: %v", err)
	}
	state, err = s.GetMatchState(ctx)
	if err != nil {
		t.Fatalf("GetMatchState after reset: %v", err)
	}
	if state.Player1 != nil {
		t.Fatalf("GetMatchState() after reset = %+v; want all nil", state)
	}
}

func TestRenameUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.TryRegister(ctx, "Alice", "pw", bcrypt.MinCost)
	s.TryRegister(ctx, "Bob", "pw", bcrypt.MinCost)

	if err := s.TryUpdateUsername(ctx, "Alice", "Bob"); err != ErrUsernameTaken {
		t.Fatalf("TryUpdateUsername to taken name = %v; want ErrUsernameTaken", err)
	}

	if err := s.TryUpdateUsername(ctx, "Alice", "Alicia"); err != nil {
		t.Fatalf("TryUpdateUsername: %v", err)
	}
	if _, err := s.TryLogin(ctx, "alicia", "pw"); err != nil {
		t.Fatalf("TryLogin after rename: %v", err)
	}
}
