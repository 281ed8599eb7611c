package repository

import (
	"encoding/json"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
)

const clickModelColumns = `id, name, features, coefficients, intercept, r_squared, observations, created_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClickModel(row rowScanner) (*domain.ClickModel, error) {
	model := &domain.ClickModel{}
	var features, coefficients []byte

	dst := []any{&model.ID, &model.Name, &features, &coefficients, &model.Intercept, &model.RSquared, &model.Observations, &model.CreatedAt, &model.Version}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(features, &model.Features); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(coefficients, &model.Coefficients); err != nil {
		return nil, err
	}

	return model, nil
}

// InsertClickModel 特征名和系数以 JSON 数组的形式保存，保证顺序不变
func (r *Repository) InsertClickModel(model *domain.ClickModel) error {
	features, err := json.Marshal(model.Features)
	if err != nil {
		return err
	}
	coefficients, err := json.Marshal(model.Coefficients)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO click_models (name, features, coefficients, intercept, r_squared, observations)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, version
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	args := []any{model.Name, features, coefficients, model.Intercept, model.RSquared, model.Observations}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&model.ID, &model.CreatedAt, &model.Version); err != nil {
		return err
	}

	return nil
}

func (r *Repository) GetClickModelByID(id int64) (*domain.ClickModel, error) {
	query := `SELECT ` + clickModelColumns + ` FROM click_models WHERE id = $1`

	ctx, cancel := r.queryContext()
	defer cancel()

	return scanClickModel(r.dbpool.QueryRowContext(ctx, query, id))
}

// GetLatestClickModel 没有任何模型时返回 sql.ErrNoRows
func (r *Repository) GetLatestClickModel() (*domain.ClickModel, error) {
	query := `SELECT ` + clickModelColumns + ` FROM click_models ORDER BY created_at DESC, id DESC LIMIT 1`

	ctx, cancel := r.queryContext()
	defer cancel()

	return scanClickModel(r.dbpool.QueryRowContext(ctx, query))
}

func (r *Repository) GetAllClickModels() ([]*domain.ClickModel, error) {
	query := `SELECT ` + clickModelColumns + ` FROM click_models ORDER BY created_at DESC, id DESC`

	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	models := []*domain.ClickModel{}
	for rows.Next() {
		model, err := scanClickModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, model)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return models, nil
}
