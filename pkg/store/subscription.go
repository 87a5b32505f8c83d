package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/foomo/storysync/pkg/story"
	"github.com/pkg/errors"
)

var ErrNoSubscription = errors.New("no subscription")

// SaveSubscription stores sub unless the identity already holds one, in which case
// the stored subscription is returned and created is false.
func (s *Store) SaveSubscription(ctx context.Context, sub story.Subscription) (ret story.Subscription, created bool, err error) {
	if sub.Identity == "" {
		return story.Subscription{}, false, errors.New("subscription identity is required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now()
	}
	err = s.tx(ctx, "save subscription", func(tx *sql.Tx) error {
		existing, err := scanSubscription(tx.QueryRowContext(ctx,
			`SELECT identity, endpoint, p256dh, auth, created_at FROM subscriptions WHERE identity = ?`, sub.Identity))
		if err == nil {
			ret = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscriptions (identity, endpoint, p256dh, auth, created_at) VALUES (?, ?, ?, ?, ?)`,
			sub.Identity, sub.Endpoint, sub.Keys.P256DH, sub.Keys.Auth, sub.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
		ret, created = sub, true
		return nil
	})
	return ret, created, err
}

func (s *Store) Subscription(ctx context.Context, identity string) (story.Subscription, error) {
	var ret story.Subscription
	err := s.tx(ctx, "get subscription", func(tx *sql.Tx) error {
		v, err := scanSubscription(tx.QueryRowContext(ctx,
			`SELECT identity, endpoint, p256dh, auth, created_at FROM subscriptions WHERE identity = ?`, identity))
		if err != nil {
			return err
		}
		ret = v
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return story.Subscription{}, ErrNoSubscription
	}
	return ret, err
}

func (s *Store) DeleteSubscription(ctx context.Context, identity string) error {
	return s.tx(ctx, "delete subscription", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE identity = ?`, identity)
		return err
	})
}

func scanSubscription(row scanner) (story.Subscription, error) {
	var (
		v         story.Subscription
		createdAt string
	)
	if err := row.Scan(&v.Identity, &v.Endpoint, &v.Keys.P256DH, &v.Keys.Auth, &createdAt); err != nil {
		return story.Subscription{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return story.Subscription{}, err
	}
	v.CreatedAt = t
	return v, nil
}
