package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/shared"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ErrUnknownGroup indicates the group name is not part of the catalogue.
var ErrUnknownGroup = errors.New("rbac: unknown group")

// Service resolves capability-group membership for users.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Groups returns the capability groups granted to the user.
func (s *Service) Groups(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT group_name FROM user_groups WHERE user_id=$1 ORDER BY group_name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		groups = append(groups, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groups, nil
}

// HasGroup reports whether the user belongs to the named group.
func (s *Service) HasGroup(ctx context.Context, userID int64, group string) (bool, error) {
	group = strings.TrimSpace(strings.ToLower(group))
	if !shared.IsKnownGroup(group) {
		return false, ErrUnknownGroup
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_groups WHERE user_id=$1 AND group_name=$2)`, userID, group).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ActorFor loads the actor with its effective groups.
func (s *Service) ActorFor(ctx context.Context, userID int64) (Actor, error) {
	groups, err := s.Groups(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: userID, Groups: groups}, nil
}

// Grant adds the user to a group. Idempotent.
func (s *Service) Grant(ctx context.Context, userID int64, group string) error {
	group = strings.TrimSpace(strings.ToLower(group))
	if !shared.IsKnownGroup(group) {
		return ErrUnknownGroup
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO user_groups (user_id, group_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, group)
	return err
}

// Revoke removes the user from a group.
func (s *Service) Revoke(ctx context.Context, userID int64, group string) error {
	group = strings.TrimSpace(strings.ToLower(group))
	if !shared.IsKnownGroup(group) {
		return ErrUnknownGroup
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM user_groups WHERE user_id=$1 AND group_name=$2`, userID, group)
	return err
}
