package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/felixgeelhaar/cadence/internal/catalog/domain"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/database"
)

// SQLPlanRepository implements domain.Repository on PostgreSQL or SQLite.
type SQLPlanRepository struct {
	conn database.Connection
}

// NewSQLPlanRepository creates a plan repository.
func NewSQLPlanRepository(conn database.Connection) *SQLPlanRepository {
	return &SQLPlanRepository{conn: conn}
}

const planColumns = `id, version, name, billing_cycle, price_amount, currency, limits, trial_days, created_at`

// Insert stores a new plan version.
func (r *SQLPlanRepository) Insert(ctx context.Context, plan *domain.Plan) error {
	limits, err := json.Marshal(plan.Limits())
	if err != nil {
		return fmt.Errorf("encode limits: %w", err)
	}

	d := r.conn.Driver()
	query := database.Rebind(d, `INSERT INTO plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = database.ExecutorFromContext(ctx, r.conn).Exec(ctx, query,
		plan.ID(),
		plan.Version(),
		plan.Name(),
		string(plan.Cycle()),
		plan.Price().Amount,
		plan.Price().Currency,
		string(limits),
		plan.TrialDays(),
		database.TimeArg(d, plan.CreatedAt()),
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrPlanVersionExists, plan.Ref())
	}
	return err
}

// Find returns one plan version.
func (r *SQLPlanRepository) Find(ctx context.Context, ref domain.PlanRef) (*domain.Plan, error) {
	query := database.Rebind(r.conn.Driver(), `SELECT `+planColumns+` FROM plans WHERE id = ? AND version = ?`)
	row := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx, query, ref.ID, ref.Version)

	plan, err := scanPlan(row)
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, ref)
	}
	return plan, err
}

// Versions returns every version of a plan, oldest first.
func (r *SQLPlanRepository) Versions(ctx context.Context, id string) ([]*domain.Plan, error) {
	query := database.Rebind(r.conn.Driver(), `SELECT `+planColumns+` FROM plans WHERE id = ? ORDER BY version`)
	return r.query(ctx, query, id)
}

// ListLatest returns the newest version of each plan.
func (r *SQLPlanRepository) ListLatest(ctx context.Context) ([]*domain.Plan, error) {
	return r.query(ctx, `
		SELECT `+planColumns+` FROM plans p
		WHERE version = (SELECT MAX(version) FROM plans WHERE id = p.id)
		ORDER BY id`)
}

func (r *SQLPlanRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Plan, error) {
	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*domain.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func scanPlan(row database.Row) (*domain.Plan, error) {
	var (
		id, name, cycle, currency, limitsJSON string
		version, trialDays                    int
		amount                                int64
		createdAt                             database.Timestamp
	)
	if err := row.Scan(&id, &version, &name, &cycle, &amount, &currency, &limitsJSON, &trialDays, &createdAt); err != nil {
		return nil, err
	}

	limits := map[string]int64{}
	if limitsJSON != "" {
		if err := json.Unmarshal([]byte(limitsJSON), &limits); err != nil {
			return nil, fmt.Errorf("decode limits for %s@v%d: %w", id, version, err)
		}
	}

	return domain.RehydratePlan(
		id, version, name,
		domain.BillingCycle(cycle),
		domain.Money{Amount: amount, Currency: currency},
		limits, trialDays, createdAt.Time,
	), nil
}
