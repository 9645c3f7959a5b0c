package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/db"
)

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userColumns = `id, username, full_name, email, password_hash, role,
	is_approved, is_active, session_version, last_login_at, created_at, updated_at`

func (r *userRepoPG) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.PasswordHash, &u.Role,
		&u.IsApproved, &u.IsActive, &u.SessionVersion, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	if u.SessionVersion == 0 {
		u.SessionVersion = 1
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, username, full_name, email, password_hash, role,
			is_approved, is_active, session_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		u.ID, u.Username, u.FullName, u.Email, u.PasswordHash, u.Role,
		u.IsApproved, u.IsActive, u.SessionVersion,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if apperr.IsUniqueViolation(err, "") {
		return apperr.Conflict("username %q is already taken", u.Username)
	}
	return apperr.FromDB(err, "user")
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := r.scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "user")
	}
	return u, nil
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := r.scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, strings.ToLower(username)))
	if err != nil {
		return nil, apperr.FromDB(err, "user")
	}
	return u, nil
}

func (r *userRepoPG) List(ctx context.Context, filter UserFilter, limit, offset int) ([]*User, int, error) {
	qb := db.NewSearchQuery("users", userColumns)
	if filter.Role != "" {
		qb.Eq("role", filter.Role)
	}
	if filter.Approved != nil {
		qb.Eq("is_approved", *filter.Approved)
	}
	if filter.Active != nil {
		qb.Eq("is_active", *filter.Active)
	}
	qb.Contains(filter.Query, "username", "full_name", "email")
	qb.OrderBy("created_at DESC, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (r *userRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "user")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

func (r *userRepoPG) TouchLogin(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *userRepoPG) ApplyAndBump(ctx context.Context, id uuid.UUID, changes UserChanges) (int, error) {
	set := []string{`session_version = session_version + 1`, `updated_at = NOW()`}
	args := []interface{}{id}
	idx := 2

	if changes.Role != nil {
		set = append(set, fmt.Sprintf(`role = $%d`, idx))
		args = append(args, *changes.Role)
		idx++
	}
	if changes.IsApproved != nil {
		set = append(set, fmt.Sprintf(`is_approved = $%d`, idx))
		args = append(args, *changes.IsApproved)
		idx++
	}
	if changes.IsActive != nil {
		set = append(set, fmt.Sprintf(`is_active = $%d`, idx))
		args = append(args, *changes.IsActive)
		idx++
	}
	if changes.PasswordHash != nil {
		set = append(set, fmt.Sprintf(`password_hash = $%d`, idx))
		args = append(args, *changes.PasswordHash)
	}

	var version int
	err := r.conn(ctx).QueryRow(ctx,
		`UPDATE users SET `+strings.Join(set, ", ")+` WHERE id = $1 RETURNING session_version`,
		args...,
	).Scan(&version)
	if err != nil {
		return 0, apperr.FromDB(err, "user")
	}
	return version, nil
}

func (r *userRepoPG) SessionVersion(ctx context.Context, id uuid.UUID) (int, error) {
	var version int
	err := r.conn(ctx).QueryRow(ctx, `SELECT session_version FROM users WHERE id = $1`, id).Scan(&version)
	if err != nil {
		return 0, apperr.FromDB(err, "user")
	}
	return version, nil
}
