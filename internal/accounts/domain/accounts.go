package accounts

import (
	"errors"
	"time"
)

// ErrNotFound means the user or referrer does not exist locally.
var ErrNotFound = errors.New("accounts: not found")

// User is an operator or admin account. Only identity and the external
// correlation id matter to the lifecycle; authentication lives elsewhere.
type User struct {
	ID        string
	ServerID  string
	Name      string
	Email     string
	Role      string
	CreatedAt time.Time
}

const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Referrer is the location a sample is collected from.
type Referrer struct {
	ID        string
	ServerID  string
	Name      string
	Address   string
	Latitude  *float64
	Longitude *float64
	CreatedAt time.Time
}
