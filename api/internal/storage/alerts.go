package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"flow-threat-detector/internal/model"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// AlertFilter narrows alert listings. Zero values mean "no filter".
type AlertFilter struct {
	Limit    int
	Severity string
	ClientID string
}

// AlertRepository persists and queries materialized alerts.
type AlertRepository interface {
	Create(ctx context.Context, a *model.Alert) error
	List(ctx context.Context, filter AlertFilter) ([]model.Alert, error)
	GetByID(ctx context.Context, id string) (*model.Alert, error)
	CountBySeverity(ctx context.Context) (map[string]int, error)
}

type alertRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

func NewAlertRepository(db *sqlx.DB, logger *logrus.Logger) AlertRepository {
	return &alertRepository{db: db, logger: logger}
}

const alertColumns = `id, client_id, resource_id, owner_id, alert_type, severity, title, description,
	source_ip, destination_ip, detection_method, confidence_score, evidence, created_at`

func (r *alertRepository) Create(ctx context.Context, a *model.Alert) error {
	query := `INSERT INTO alerts (` + alertColumns + `)
	          VALUES (:id, :client_id, :resource_id, :owner_id, :alert_type, :severity, :title, :description,
	                  :source_ip, :destination_ip, :detection_method, :confidence_score, :evidence, :created_at)`
	_, err := r.db.NamedExecContext(ctx, query, a)
	return err
}

func (r *alertRepository) List(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := []interface{}{}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		query += ` AND severity = $` + itoa(len(args))
	}
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		query += ` AND client_id = $` + itoa(len(args))
	}
	args = append(args, filter.Limit)
	query += ` ORDER BY created_at DESC LIMIT $` + itoa(len(args))

	alerts := []model.Alert{}
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *alertRepository) GetByID(ctx context.Context, id string) (*model.Alert, error) {
	var a model.Alert
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	if err := r.db.GetContext(ctx, &a, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *alertRepository) CountBySeverity(ctx context.Context) (map[string]int, error) {
	rows := []struct {
		Severity string `db:"severity"`
		Count    int    `db:"count"`
	}{}
	query := `SELECT severity, COUNT(*) AS count FROM alerts GROUP BY severity`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Severity] = row.Count
	}
	return counts, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
