// Package storage implements the credential store (spec C2) and game
// store (spec C3) as a single embedded SQLite database, grounded on
// the teacher's internal/storage/sqlite.go: one *sql.DB, pragmas for a
// single-writer file database, and a schema applied on open.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tactoed/tactoed/internal/domain"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Sentinel errors surfaced to callers (spec §7's taxonomy mapped onto
// Go errors rather than string reasons).
var (
	ErrUsernameTaken    = errors.New("username already exists")
	ErrUserNotFound     = errors.New("user not found")
	ErrWrongPassword    = errors.New("wrong password")
	ErrInvalidUsername  = errors.New("invalid username")
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var reservedUsernames = map[string]bool{
	"host":      true,
	"server":    true,
	"admin":     true,
	"moderator": true,
}

// Store provides access to the users table (C2) and the match_state
// key/value table (C3).
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the SQLite database at dbPath and
// ensures its schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrStoreUnavailable, err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: setting pragmas: %v", ErrStoreUnavailable, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", ErrStoreUnavailable, err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// TestConnection reports whether the store can currently be reached.
func (s *Store) TestConnection() bool {
	return s.db.Ping() == nil
}

// ValidateUsername enforces length, character set, and the reserved
// word list from spec §3. It returns ok=true or a human-readable
// reason.
func ValidateUsername(name string) (bool, string) {
	if len(name) < 3 || len(name) > 16 {
		return false, "Username must be between 3 and 16 characters."
	}
	if !usernamePattern.MatchString(name) {
		return false, "Username may only contain letters, digits, and underscores."
	}
	if reservedUsernames[strings.ToLower(name)] {
		return false, "That username is reserved."
	}
	return true, ""
}

func lower(s string) string { return strings.ToLower(s) }

// TryRegister inserts exactly one row for user with a bcrypt hash of
// pass, preserving the display casing provided. Uniqueness is
// case-insensitive via the username_lower column.
func (s *Store) TryRegister(ctx context.Context, user, pass string, bcryptCost int) error {
	if ok, _ := ValidateUsername(user); !ok {
		return ErrInvalidUsername
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (username, username_lower, password, created_at)
		VALUES (?, ?, ?, ?)
	`, user, lower(user), string(hash), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("%w: inserting user: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// TryLogin looks up user case-insensitively and checks pass against the
// stored hash, returning the persisted display name on success.
func (s *Store) TryLogin(ctx context.Context, user, pass string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT username, password FROM users WHERE username_lower = ?
	`, lower(user))

	var displayName, hash string
	if err := row.Scan(&displayName, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("%w: querying user: %v", ErrStoreUnavailable, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil {
		return "", ErrWrongPassword
	}
	return displayName, nil
}

// TryUpdateUsername renames oldDisplay to newName, checked for both
// format and case-insensitive uniqueness.
func (s *Store) TryUpdateUsername(ctx context.Context, oldDisplay, newName string) error {
	if ok, _ := ValidateUsername(newName); !ok {
		return ErrInvalidUsername
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET username = ?, username_lower = ? WHERE username_lower = ?
	`, newName, lower(newName), lower(oldDisplay))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("%w: updating username: %v", ErrStoreUnavailable, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: checking rows affected: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// IncrementWins adds one to user's win counter.
func (s *Store) IncrementWins(ctx context.Context, user string) error {
	return s.incrementColumn(ctx, user, "wins")
}

// IncrementLosses adds one to user's loss counter.
func (s *Store) IncrementLosses(ctx context.Context, user string) error {
	return s.incrementColumn(ctx, user, "losses")
}

// IncrementDraws adds one to user's draw counter.
func (s *Store) IncrementDraws(ctx context.Context, user string) error {
	return s.incrementColumn(ctx, user, "draws")
}

func (s *Store) incrementColumn(ctx context.Context, user, column string) error {
	query := fmt.Sprintf("UPDATE users SET %s = %s + 1 WHERE username_lower = ?", column, column)
	res, err := s.db.ExecContext(ctx, query, lower(user))
	if err != nil {
		return fmt.Errorf("%w: incrementing %s: %v", ErrStoreUnavailable, column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: checking rows affected: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetStats returns user's win/loss/draw counters.
func (s *Store) GetStats(ctx context.Context, user string) (wins, losses, draws int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT wins, losses, draws FROM users WHERE username_lower = ?
	`, lower(user))
	if err := row.Scan(&wins, &losses, &draws); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, 0, ErrUserNotFound
		}
		return 0, 0, 0, fmt.Errorf("%w: querying stats: %v", ErrStoreUnavailable, err)
	}
	return wins, losses, draws, nil
}

// IsModerator reports the seeded moderator flag for user (SPEC_FULL.md
// §9.4). The server consults it only when a session authenticates; the
// CLI's `user admin` reads it to toggle the seed.
func (s *Store) IsModerator(ctx context.Context, user string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT is_moderator FROM users WHERE username_lower = ?`, lower(user))
	var flag int
	if err := row.Scan(&flag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("%w: querying moderator flag: %v", ErrStoreUnavailable, err)
	}
	return flag != 0, nil
}

// SetModeratorSeed sets the persisted is_moderator seed column for
// user, used only by the CLI operator tool (A4), never by the live
// host console.
func (s *Store) SetModeratorSeed(ctx context.Context, user string, isModerator bool) error {
	val := 0
	if isModerator {
		val = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_moderator = ? WHERE username_lower = ?`, val, lower(user))
	if err != nil {
		return fmt.Errorf("%w: setting moderator seed: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: checking rows affected: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetAllScores returns every user sorted by wins desc, draws desc, ties
// broken by ascending ID (insertion order), per spec §4.2.
func (s *Store) GetAllScores(ctx context.Context) ([]domain.ScoreEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, wins, losses, draws FROM users
		ORDER BY wins DESC, draws DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying scores: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []domain.ScoreEntry
	for rows.Next() {
		var e domain.ScoreEntry
		if err := rows.Scan(&e.Username, &e.Wins, &e.Losses, &e.Draws); err != nil {
			return nil, fmt.Errorf("%w: scanning score row: %v", ErrStoreUnavailable, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetUser returns the full user record, used by the CLI operator tool.
func (s *Store) GetUser(ctx context.Context, user string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, wins, losses, draws, is_moderator, created_at
		FROM users WHERE username_lower = ?
	`, lower(user))

	var u domain.User
	var isModerator int
	var createdAt string
	if err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Wins, &u.Losses, &u.Draws, &isModerator, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: querying user: %v", ErrStoreUnavailable, err)
	}
	u.IsModerator = isModerator != 0
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// ListUsers returns every user record, used by `tactoed user list`.
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, wins, losses, draws, is_moderator, created_at FROM users ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying users: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var isModerator int
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &u.Wins, &u.Losses, &u.Draws, &isModerator, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scanning user row: %v", ErrStoreUnavailable, err)
		}
		u.IsModerator = isModerator != 0
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// RemoveUser deletes user, used by `tactoed user remove`.
func (s *Store) RemoveUser(ctx context.Context, user string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username_lower = ?`, lower(user))
	if err != nil {
		return fmt.Errorf("%w: deleting user: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: checking rows affected: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetPassword overwrites user's password hash, used by
// `tactoed user reset`.
func (s *Store) SetPassword(ctx context.Context, user, newPass string, bcryptCost int) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPass), bcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = ? WHERE username_lower = ?`, string(hash), lower(user))
	if err != nil {
		return fmt.Errorf("%w: updating password: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: checking rows affected: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// --- Game store (C3): match_state key/value table ---

// GetMatchState reads the three well-known keys into a MatchState.
func (s *Store) GetMatchState(ctx context.Context) (domain.MatchState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM match_state`)
	if err != nil {
		return domain.MatchState{}, fmt.Errorf("%w: querying match state: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var state domain.MatchState
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return domain.MatchState{}, fmt.Errorf("%w: scanning match state row: %v", ErrStoreUnavailable, err)
		}
		var target **string
		switch key {
		case "Player1":
			target = &state.Player1
		case "Player2":
			target = &state.Player2
		case "CurrentTurn":
			target = &state.CurrentTurn
		default:
			continue
		}
		if value.Valid {
			v := value.String
			*target = &v
		}
	}
	return state, rows.Err()
}

// setMatchKey upserts one well-known key.
func (s *Store) setMatchKey(ctx context.Context, key string, value *string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("%w: upserting match state %s: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}

// SetPlayer1 upserts the Player1 slot.
func (s *Store) SetPlayer1(ctx context.Context, name *string) error {
	return s.setMatchKey(ctx, "Player1", name)
}

// SetPlayer2 upserts the Player2 slot.
func (s *Store) SetPlayer2(ctx context.Context, name *string) error {
	return s.setMatchKey(ctx, "Player2", name)
}

// SetCurrentTurn upserts the CurrentTurn value.
func (s *Store) SetCurrentTurn(ctx context.Context, name *string) error {
	return s.setMatchKey(ctx, "CurrentTurn", name)
}

// ResetMatchState clears all three well-known keys to null, per spec
// §3's "if either slot becomes null, the whole match is reset".
func (s *Store) ResetMatchState(ctx context.Context) error {
	if err := s.SetPlayer1(ctx, nil); err != nil {
		return err
	}
	if err := s.SetPlayer2(ctx, nil); err != nil {
		return err
	}
	return s.SetCurrentTurn(ctx, nil)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
