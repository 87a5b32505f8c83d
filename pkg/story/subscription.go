package story

import (
	"time"
)

// Subscription is the push registration of one identity.
type Subscription struct {
	Identity  string    `json:"-"`
	Endpoint  string    `json:"endpoint"`
	Keys      Keys      `json:"keys"`
	CreatedAt time.Time `json:"-"`
}

// Keys are opaque to this module, kept in their base64url text form.
type Keys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}
