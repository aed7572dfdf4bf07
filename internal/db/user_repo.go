package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"citypulse/internal/types"
)

// Compile-time assertion that UserRepository implements types.UserDirectory.
var _ types.UserDirectory = (*UserRepository)(nil)

// UserRepository provides data access for the users table.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// userColumns defines the standard set of columns selected for user queries.
// Used consistently across all query methods to avoid column drift.
const userColumns = `u.id, u.email, u.nickname, u.status, u.interests,
	u.lat, u.lon, u.location_label, u.thresholds, u.created_at`

// scanUser scans a single user row into a types.User struct. The columns
// must match the order defined in userColumns. Nullable scan targets cover
// columns that may be NULL (nickname, lat, lon, location_label, thresholds).
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var (
		nickname      *string
		locationLabel *string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&nickname,
		&u.Status,
		&u.Interests,
		&u.Lat,
		&u.Lon,
		&locationLabel,
		&u.Thresholds,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if nickname != nil {
		u.Nickname = *nickname
	}
	if locationLabel != nil {
		u.LocationLabel = *locationLabel
	}
	return &u, nil
}

// FindByID retrieves a user by id. Returns a not_found_user AppError when
// no matching row exists.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.id = $1 AND u.deleted_at IS NULL`,
		id,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// FindAllActive returns every active user eligible for scheduled evaluation.
func (r *UserRepository) FindAllActive(ctx context.Context) ([]types.User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.status = $1 AND u.deleted_at IS NULL
		 ORDER BY u.created_at`,
		types.UserStatusActive,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active users", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// FindByInterest returns active users who declared the given interest.
// The interests JSONB column is queried with the containment operator,
// which uses the GIN index on interests.
func (r *UserRepository) FindByInterest(ctx context.Context, cat types.InterestCategory) ([]types.User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.status = $1 AND u.deleted_at IS NULL
		   AND u.interests @> to_jsonb(ARRAY[$2::text])
		 ORDER BY u.created_at`,
		types.UserStatusActive,
		string(cat),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list users by interest", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]types.User, error) {
	var users []types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user row", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "user row iteration failed", err)
	}
	return users, nil
}
