package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"docvault.org/internal/obs"
)

// PGPrincipalStore resolves principals from Postgres.
type PGPrincipalStore struct {
	db *sql.DB
}

func NewPGPrincipalStore(db *sql.DB) *PGPrincipalStore {
	return &PGPrincipalStore{db: db}
}

const principalQuery = `
select u.id, u.username, u.email, u.department, u.clearance_level, u.organization, r.name
from users u
left join user_roles r on r.id = u.role_id
where u.id = $1`

// Deployments migrated before the attribute columns existed only have
// id and a plain role column. The minimal projection keeps them
// working: absent attributes simply never match attribute rules.
const principalFallbackQuery = `select id, role from users where id = $1`

// Find loads the principal's current attributes. sql.ErrNoRows maps
// to ErrPrincipalNotFound; any other failure wraps
// ErrStoreUnavailable.
func (s *PGPrincipalStore) Find(ctx context.Context, id int64) (*Principal, error) {
	var (
		p          Principal
		email      sql.NullString
		department sql.NullString
		clearance  sql.NullInt64
		org        sql.NullString
		role       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, principalQuery, id).
		Scan(&p.ID, &p.Username, &email, &department, &clearance, &org, &role)
	if isUndefinedColumn(err) {
		obs.Logger().WithError(err).Warn("principal attribute columns missing, using minimal projection")
		err = s.db.QueryRowContext(ctx, principalFallbackQuery, id).Scan(&p.ID, &role)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	p.Email = email.String
	p.Department = department.String
	p.Clearance = int(clearance.Int64)
	p.Organization = org.String
	p.Roles = NormalizeRoles(role.String)
	return &p, nil
}

// isUndefinedColumn reports whether the query failed because the
// schema lacks a referenced column (Postgres 42703).
func isUndefinedColumn(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42703"
	}
	msg := err.Error()
	return strings.Contains(msg, "42703") ||
		(strings.Contains(msg, "column") && strings.Contains(msg, "does not exist"))
}

// PGResourceStore resolves document attributes from Postgres.
type PGResourceStore struct {
	db *sql.DB
}

func NewPGResourceStore(db *sql.DB) *PGResourceStore {
	return &PGResourceStore{db: db}
}

const resourceQuery = `
select id, uploaded_by, organization, department, sensitivity
from documents
where id = $1`

const resourceListQuery = `
select id, uploaded_by, organization, department, sensitivity
from documents
where organization = $1
order by id desc
limit $2`

// Find loads the addressed document's attributes. A missing row is
// not an error: the evaluator sees an empty resource and the policy
// set decides. Store failures wrap ErrStoreUnavailable.
func (s *PGResourceStore) Find(ctx context.Context, id int64) (*Resource, error) {
	var (
		r           Resource
		owner       sql.NullInt64
		org         sql.NullString
		department  sql.NullString
		sensitivity sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, resourceQuery, id).
		Scan(&r.ID, &owner, &org, &department, &sensitivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	r.OwnerID = owner.Int64
	r.Organization = org.String
	r.Department = department.String
	r.Sensitivity = int(sensitivity.Int64)
	return &r, nil
}

// ListByOrganization returns the newest documents of one tenant.
func (s *PGResourceStore) ListByOrganization(ctx context.Context, organization string, limit int) ([]Resource, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, resourceListQuery, organization, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		var (
			r           Resource
			owner       sql.NullInt64
			org         sql.NullString
			department  sql.NullString
			sensitivity sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &owner, &org, &department, &sensitivity); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		r.OwnerID = owner.Int64
		r.Organization = org.String
		r.Department = department.String
		r.Sensitivity = int(sensitivity.Int64)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// Delete removes a document row. The second result reports whether a
// row existed.
func (s *PGResourceStore) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from documents where id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}
