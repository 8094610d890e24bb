// Package domain holds the plain data types shared between the
// persistence layer (internal/storage) and the rest of the server,
// mirroring the shape of the teacher's internal/domain package.
package domain

import "time"

// User is one row of the credential store's users table (spec §3).
type User struct {
	ID          int64
	Username    string // display casing, as registered
	Password    string // bcrypt hash, never the plaintext
	Wins        int
	Losses      int
	Draws       int
	IsModerator bool // seed value only; see SPEC_FULL.md §9.4
	CreatedAt   time.Time
}

// ScoreEntry is one row of a leaderboard listing.
type ScoreEntry struct {
	Username string
	Wins     int
	Losses   int
	Draws    int
}

// MatchState is the persisted singleton match record (spec §3, §4.3):
// the two slot occupants and whose turn it is. A nil field means the
// slot or turn is unset.
type MatchState struct {
	Player1     *string
	Player2     *string
	CurrentTurn *string
}
