package policy

import (
	"context"
	"database/sql"
	"encoding/json"

	"docvault.org/internal/obs"
)

var _ Store = (*PGStore)(nil)

// PGStore reads policies from the abac_policies table.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// ListEnabled returns the tenant's effective rule set: enabled rows
// scoped either globally or to this tenant, never to another tenant,
// ordered by ascending priority. A row whose expression document does
// not decode is kept with a nil expression so the evaluator logs it
// and treats it as non-matching instead of silently dropping it.
func (s *PGStore) ListEnabled(ctx context.Context, tenant string) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, organization, effect, expression::text, priority
		 from abac_policies
		 where enabled = true and organization in ($1, $2)
		 order by priority asc, id asc`,
		GlobalScope, tenant,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		var (
			p       Policy
			rawExpr []byte
		)
		if err := rows.Scan(&p.ID, &p.Organization, &p.Effect, &rawExpr, &p.Priority); err != nil {
			return nil, err
		}
		p.Enabled = true
		var expr Expr
		if err := json.Unmarshal(rawExpr, &expr); err != nil {
			obs.Logger().WithError(err).WithField("policy_id", p.ID).
				Warn("policy expression document is malformed")
		} else {
			p.Expression = &expr
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}
