package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/aoba-mfg/be-kanban-approvals/internal/apperr"
	"github.com/aoba-mfg/be-kanban-approvals/internal/database"
)

// DepartmentRepository reads the department master data.
type DepartmentRepository struct {
	db *database.DB
}

// NewDepartmentRepository creates a new DepartmentRepository.
func NewDepartmentRepository(db *database.DB) *DepartmentRepository {
	return &DepartmentRepository{db: db}
}

// GetDepartment retrieves a department by id.
func (r *DepartmentRepository) GetDepartment(ctx context.Context, id string) (*Department, error) {
	query := `
		SELECT id, name, is_production_control
		FROM departments
		WHERE id = $1
	`

	dept := &Department{}
	err := r.db.QueryRow(ctx, query, id).Scan(&dept.ID, &dept.Name, &dept.IsProductionControl)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("department", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get department")
	}
	return dept, nil
}

// ListDepartments returns all departments ordered by id.
func (r *DepartmentRepository) ListDepartments(ctx context.Context) ([]*Department, error) {
	query := `
		SELECT id, name, is_production_control
		FROM departments
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list departments")
	}
	defer rows.Close()

	departments := make([]*Department, 0)
	for rows.Next() {
		dept := &Department{}
		if err := rows.Scan(&dept.ID, &dept.Name, &dept.IsProductionControl); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan department")
		}
		departments = append(departments, dept)
	}

	return departments, nil
}
