package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/db"
	"github.com/crowdsense/crowdsense-worker/internal/measurement"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const projectColumns = `
	id, title, description, address, latitude, longitude, range_km, data_kinds,
	reward_total::text, status, created_by, end_date, created_at, completed_at
`

// CreateProject inserts a new project
func (r *Repository) CreateProject(ctx context.Context, p *db.Project) error {
	query := `
		INSERT INTO projects (
			id, title, description, address, latitude, longitude, range_km, data_kinds,
			reward_total, status, created_by, end_date, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	dataKinds := p.DataKinds
	if dataKinds == nil {
		dataKinds = []string{}
	}

	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.Title,
		p.Description,
		p.Address,
		p.Latitude,
		p.Longitude,
		p.RangeKM,
		dataKinds,
		p.RewardTotal.String(),
		string(p.Status),
		p.CreatedBy,
		p.EndDate,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	return nil
}

// GetProject retrieves a project by id
func (r *Repository) GetProject(ctx context.Context, id string) (*db.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`

	p, err := scanProject(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}

	return p, nil
}

func scanProject(row pgx.Row) (*db.Project, error) {
	var (
		p           db.Project
		rewardTotal string
		status      string
	)
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&p.Address,
		&p.Latitude,
		&p.Longitude,
		&p.RangeKM,
		&p.DataKinds,
		&rewardTotal,
		&status,
		&p.CreatedBy,
		&p.EndDate,
		&p.CreatedAt,
		&p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	p.RewardTotal, err = decimal.NewFromString(rewardTotal)
	if err != nil {
		return nil, fmt.Errorf("invalid reward_total %q: %w", rewardTotal, err)
	}
	p.Status = db.ProjectStatus(status)

	return &p, nil
}

// InsertSubmission appends a submission
func (r *Repository) InsertSubmission(ctx context.Context, sub *measurement.Submission) error {
	query := `
		INSERT INTO submissions (id, project_id, contributor_address, submitted_at, archive_key, data_items)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	id, err := uuid.Parse(sub.ID)
	if err != nil {
		return fmt.Errorf("invalid submission id %q: %w", sub.ID, err)
	}

	items := sub.Items
	if items == nil {
		items = []measurement.DataItem{}
	}
	dataItems, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal data items: %w", err)
	}

	_, err = r.pool.Exec(ctx, query,
		id,
		sub.ProjectID,
		nullableString(sub.ContributorAddress),
		sub.SubmittedAt,
		nullableString(sub.ArchiveKey),
		dataItems,
	)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}

	return nil
}

// ListSubmissions returns every submission of a project in arrival order
func (r *Repository) ListSubmissions(ctx context.Context, projectID string) ([]measurement.Submission, error) {
	query := `
		SELECT id, project_id, contributor_address, submitted_at, archive_key, data_items, created_at
		FROM submissions
		WHERE project_id = $1
		ORDER BY seq ASC
	`

	return r.querySubmissions(ctx, query, projectID)
}

// ListSubmissionsByContributor returns a contributor's submissions across projects
func (r *Repository) ListSubmissionsByContributor(ctx context.Context, address string) ([]measurement.Submission, error) {
	query := `
		SELECT id, project_id, contributor_address, submitted_at, archive_key, data_items, created_at
		FROM submissions
		WHERE contributor_address = $1
		ORDER BY seq ASC
	`

	return r.querySubmissions(ctx, query, address)
}

func (r *Repository) querySubmissions(ctx context.Context, query string, arg string) ([]measurement.Submission, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var subs []measurement.Submission
	for rows.Next() {
		var row db.SubmissionRow
		if err := rows.Scan(
			&row.ID,
			&row.ProjectID,
			&row.ContributorAddress,
			&row.SubmittedAt,
			&row.ArchiveKey,
			&row.DataItems,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}

		sub, err := submissionFromRow(row)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return subs, nil
}

func submissionFromRow(row db.SubmissionRow) (measurement.Submission, error) {
	sub := measurement.Submission{
		ID:          row.ID.String(),
		ProjectID:   row.ProjectID,
		SubmittedAt: row.SubmittedAt,
	}
	if row.ContributorAddress != nil {
		sub.ContributorAddress = *row.ContributorAddress
	}
	if row.ArchiveKey != nil {
		sub.ArchiveKey = *row.ArchiveKey
	}
	if err := json.Unmarshal(row.DataItems, &sub.Items); err != nil {
		return measurement.Submission{}, fmt.Errorf("failed to decode data items of submission %s: %w", sub.ID, err)
	}
	return sub, nil
}

// BeginTx starts a new transaction
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CompleteProject marks the project completed and replaces its distribution
// in one transaction. Only active or already completed projects transition;
// anything else returns db.ErrStatusConflict and nothing is written.
func (r *Repository) CompleteProject(ctx context.Context, projectID string, dist *db.Distribution) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	updateQuery := `
		UPDATE projects
		SET status = $2, completed_at = $3
		WHERE id = $1 AND status IN ($4, $2)
	`
	tag, err := tx.Exec(ctx, updateQuery,
		projectID,
		string(db.ProjectStatusCompleted),
		dist.ComputedAt,
		string(db.ProjectStatusActive),
	)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrStatusConflict
	}

	if err := r.replaceDistributionTx(ctx, tx, dist); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *Repository) replaceDistributionTx(ctx context.Context, tx pgx.Tx, dist *db.Distribution) error {
	upsertQuery := `
		INSERT INTO project_distributions (project_id, outcome, reward_total, total_units, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id) DO UPDATE
		SET outcome = EXCLUDED.outcome,
			reward_total = EXCLUDED.reward_total,
			total_units = EXCLUDED.total_units,
			computed_at = EXCLUDED.computed_at
	`
	_, err := tx.Exec(ctx, upsertQuery,
		dist.ProjectID,
		dist.Outcome,
		dist.RewardTotal.String(),
		dist.TotalUnits,
		dist.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert distribution: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM distribution_entries WHERE project_id = $1`, dist.ProjectID); err != nil {
		return fmt.Errorf("failed to clear distribution entries: %w", err)
	}

	insertQuery := `
		INSERT INTO distribution_entries (project_id, position, contributor_address, units, amount)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i, entry := range dist.Entries {
		_, err := tx.Exec(ctx, insertQuery,
			dist.ProjectID,
			i,
			entry.ContributorAddress,
			entry.Units,
			entry.Amount.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert distribution entry: %w", err)
		}
	}

	return nil
}

// GetDistribution retrieves the distribution recorded for a project
func (r *Repository) GetDistribution(ctx context.Context, projectID string) (*db.Distribution, error) {
	headerQuery := `
		SELECT project_id, outcome, reward_total::text, total_units, computed_at
		FROM project_distributions
		WHERE project_id = $1
	`

	var (
		dist        db.Distribution
		rewardTotal string
	)
	err := r.pool.QueryRow(ctx, headerQuery, projectID).Scan(
		&dist.ProjectID,
		&dist.Outcome,
		&rewardTotal,
		&dist.TotalUnits,
		&dist.ComputedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution: %w", err)
	}
	if dist.RewardTotal, err = decimal.NewFromString(rewardTotal); err != nil {
		return nil, fmt.Errorf("invalid distribution reward_total %q: %w", rewardTotal, err)
	}

	entriesQuery := `
		SELECT contributor_address, units, amount::text
		FROM distribution_entries
		WHERE project_id = $1
		ORDER BY position ASC
	`
	rows, err := r.pool.Query(ctx, entriesQuery, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution entries: %w", err)
	}
	defer rows.Close()

	dist.Entries = []db.DistributionEntry{}
	for rows.Next() {
		var (
			entry  db.DistributionEntry
			amount string
		)
		if err := rows.Scan(&entry.ContributorAddress, &entry.Units, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan distribution entry: %w", err)
		}
		if entry.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid distribution amount %q: %w", amount, err)
		}
		dist.Entries = append(dist.Entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return &dist, nil
}

// ListPayoutsByContributor returns every distribution entry credited to address
func (r *Repository) ListPayoutsByContributor(ctx context.Context, address string) ([]db.Payout, error) {
	query := `
		SELECT e.project_id, e.units, e.amount::text, d.computed_at
		FROM distribution_entries e
		JOIN project_distributions d ON d.project_id = e.project_id
		WHERE e.contributor_address = $1
		ORDER BY e.project_id ASC
	`

	rows, err := r.pool.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	var payouts []db.Payout
	for rows.Next() {
		var (
			p      db.Payout
			amount string
		)
		if err := rows.Scan(&p.ProjectID, &p.Units, &amount, &p.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid payout amount %q: %w", amount, err)
		}
		payouts = append(payouts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return payouts, nil
}

// ExpireProjects marks active projects whose end date has passed as expired
func (r *Repository) ExpireProjects(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE projects
		SET status = $1
		WHERE status = $2 AND end_date <= $3
		RETURNING id
	`

	rows, err := r.pool.Query(ctx, query,
		string(db.ProjectStatusExpired),
		string(db.ProjectStatusActive),
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to expire projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired project id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return ids, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
