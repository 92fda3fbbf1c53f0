// Package directory resolves user profiles for the messaging layer. Reads
// go through the cache-aside gate because the backing store is shared with
// the rest of the workforce suite and comparatively slow.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"messaging-service/internal/cache"
	"messaging-service/internal/errs"
)

// UserProfile is the subset of a workforce user the messaging core needs.
type UserProfile struct {
	ID          int    `db:"id" json:"id"`
	Username    string `db:"username" json:"username"`
	DisplayName string `db:"display_name" json:"display_name"`
	Team        string `db:"team" json:"team,omitempty"`
}

// Directory abstracts user profile lookup.
type Directory interface {
	GetUser(ctx context.Context, userID int) (UserProfile, error)
	BulkUsers(ctx context.Context, userIDs []int) (map[int]UserProfile, error)
}

// UserRepo is a sqlx-backed Directory.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser loads a single profile.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (UserProfile, error) {
	var profile UserProfile
	err := r.db.GetContext(ctx, &profile, `SELECT id, username, display_name, team FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return UserProfile{}, errs.NotFoundf("user %d not found", userID)
	}
	if err != nil {
		return UserProfile{}, errs.Transient("load user", err)
	}
	return profile, nil
}

// BulkUsers loads profiles for the given ids. Unknown ids are omitted.
func (r *UserRepo) BulkUsers(ctx context.Context, userIDs []int) (map[int]UserProfile, error) {
	ids := lo.Uniq(userIDs)
	if len(ids) == 0 {
		return map[int]UserProfile{}, nil
	}

	query, args, err := sqlx.In(`SELECT id, username, display_name, team FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, errs.Transient("build user query", err)
	}
	var profiles []UserProfile
	if err := r.db.SelectContext(ctx, &profiles, r.db.Rebind(query), args...); err != nil {
		return nil, errs.Transient("load users", err)
	}
	return lo.KeyBy(profiles, func(p UserProfile) int { return p.ID }), nil
}

// Static synthesizes placeholder profiles. Used with the in-memory message
// store where no user database is wired up.
type Static struct{}

// GetUser returns a synthetic profile for any id.
func (Static) GetUser(_ context.Context, userID int) (UserProfile, error) {
	return UserProfile{ID: userID, Username: fmt.Sprintf("user-%d", userID)}, nil
}

// BulkUsers returns synthetic profiles for every requested id.
func (Static) BulkUsers(_ context.Context, userIDs []int) (map[int]UserProfile, error) {
	out := make(map[int]UserProfile, len(userIDs))
	for _, id := range lo.Uniq(userIDs) {
		out[id] = UserProfile{ID: id, Username: fmt.Sprintf("user-%d", id)}
	}
	return out, nil
}

// Cached layers the single-flight cache gate over a Directory. Not-found
// results are never cached, so a just-provisioned user becomes visible on
// the next lookup.
type Cached struct {
	inner   Directory
	gate    *cache.Gate
	ttl     time.Duration
	sliding time.Duration
}

// NewCached constructs a Cached directory.
func NewCached(inner Directory, gate *cache.Gate, ttl, sliding time.Duration) *Cached {
	return &Cached{inner: inner, gate: gate, ttl: ttl, sliding: sliding}
}

// GetUser returns the cached profile, loading it at most once per cold key.
func (c *Cached) GetUser(ctx context.Context, userID int) (UserProfile, error) {
	v, err := c.gate.GetOrLoad(ctx, userKey(userID), func(ctx context.Context) (any, error) {
		return c.inner.GetUser(ctx, userID)
	}, c.ttl, c.sliding)
	if err != nil {
		return UserProfile{}, err
	}
	return v.(UserProfile), nil
}

// BulkUsers resolves each id through the per-user cache.
func (c *Cached) BulkUsers(ctx context.Context, userIDs []int) (map[int]UserProfile, error) {
	result := make(map[int]UserProfile, len(userIDs))
	for _, id := range lo.Uniq(userIDs) {
		profile, err := c.GetUser(ctx, id)
		if err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		result[id] = profile
	}
	return result, nil
}

// Invalidate drops a user from the cache after an out-of-band update.
func (c *Cached) Invalidate(userID int) {
	c.gate.Invalidate(userKey(userID))
}

func userKey(userID int) string {
	return fmt.Sprintf("user:%d", userID)
}

var (
	_ Directory = (*UserRepo)(nil)
	_ Directory = Static{}
	_ Directory = (*Cached)(nil)
)
