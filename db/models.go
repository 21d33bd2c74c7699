package db

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("db: not found")

// APIKey is an issued key. Token holds the bcrypt hash of the full key, and
// Prefix is the part before the first dot, used for lookup.
type APIKey struct {
	Prefix       string
	Token        string
	EmailAddress string
	GeneratedAt  time.Time
	ExpiredAt    time.Time
}

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one stored simulation. Summary is the json report and Cube the
// csv serialised NPV cube.
type Run struct {
	ID        string
	Asof      time.Time
	Status    RunStatus
	Summary   []byte
	Cube      []byte
	CreatedAt time.Time
}
