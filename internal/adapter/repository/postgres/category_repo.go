package postgres

import (
	"context"
	"fmt"

	"github.com/simaogato/financik-backend/internal/domain"
)

// categoryRepository implements domain.CategoryRepository
type categoryRepository struct {
	db *DB
}

// NewCategoryRepository creates a new category repository
func NewCategoryRepository(db *DB) domain.CategoryRepository {
	return &categoryRepository{db: db}
}

// AddCategory stores a category; existing names are ignored
func (r *categoryRepository) AddCategory(ctx context.Context, category domain.Category) error {
	query := `
		INSERT INTO categories (account_id, name)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, category.AccountID, category.Name); err != nil {
		return fmt.Errorf("failed to add category: %w", err)
	}
	return nil
}

// ListCategories returns the category names of an account in name order
func (r *categoryRepository) ListCategories(ctx context.Context, accountID string) ([]string, error) {
	query := `
		SELECT name
		FROM categories
		WHERE account_id = $1
		ORDER BY name COLLATE "C"
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return names, nil
}
