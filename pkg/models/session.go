package models

import "time"

// DefaultInstitution is used for accounts that do not name one.
const DefaultInstitution = "default"

// User is a credential entry. Immutable once loaded.
type User struct {
	Username    string `json:"username"`
	Password    string `json:"-"`
	Institution string `json:"institution"`
}

// SessionRecord marks a username as logged in. At most one exists per
// username; it is refreshed on activity and expires after the timeout.
type SessionRecord struct {
	Username string    `json:"username"`
	LastSeen time.Time `json:"last_seen"`
}

// ChatTurn is one question/answer exchange within a session.
type ChatTurn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}
