package storage

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ntpoppe/sharply-sub000/tools/errs"
)

// PgDirectory serves the relational lookups the gateway consumes:
// usernames, login-name resolution and channel access grants. Schema
// management belongs to the API service; this type only reads.
type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(ctx context.Context, databaseURL string) (*PgDirectory, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errs.WrapMsg(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "ping postgres")
	}
	return &PgDirectory{pool: pool}, nil
}

func (d *PgDirectory) Close() { d.pool.Close() }

// Username resolves a user ID to its display name.
func (d *PgDirectory) Username(ctx context.Context, userID string) (string, error) {
	var name string
	err := d.pool.QueryRow(ctx,
		`SELECT username FROM users WHERE id = $1`, userID).Scan(&name)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return "", errs.ErrUserNotFound.WithDetail(userID)
	}
	if err != nil {
		return "", errs.ErrPersistenceUnavailable.WrapMsg(err.Error(), "op", "username")
	}
	return name, nil
}

// UserIDByName is the inverse lookup used by the login endpoint.
func (d *PgDirectory) UserIDByName(ctx context.Context, username string) (string, error) {
	var id string
	err := d.pool.QueryRow(ctx,
		`SELECT id FROM users WHERE username = $1`, username).Scan(&id)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return "", errs.ErrUserNotFound.WithDetail(username)
	}
	if err != nil {
		return "", errs.ErrPersistenceUnavailable.WrapMsg(err.Error(), "op", "user_id_by_name")
	}
	return id, nil
}

// AccessibleChannels returns every channel the user may read: all
// channels of the servers the user is a member of.
func (d *PgDirectory) AccessibleChannels(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT c.id
		FROM channels c
		JOIN server_members sm ON sm.server_id = c.server_id
		WHERE sm.user_id = $1`, userID)
	if err != nil {
		return nil, errs.ErrPersistenceUnavailable.WrapMsg(err.Error(), "op", "accessible_channels")
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.WrapMsg(err, "scan channel id")
		}
		channels = append(channels, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ErrPersistenceUnavailable.WrapMsg(err.Error(), "op", "accessible_channels")
	}
	return channels, nil
}

// ChannelExists reports whether the channel row is present.
func (d *PgDirectory) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	var one int
	err := d.pool.QueryRow(ctx,
		`SELECT 1 FROM channels WHERE id = $1`, channelID).Scan(&one)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errs.ErrPersistenceUnavailable.WrapMsg(err.Error(), "op", "channel_exists")
	}
	return true, nil
}
