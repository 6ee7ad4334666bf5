package category

import (
	"context"
	"fmt"

	"github.com/simaogato/financik-backend/internal/domain"
)

// DefaultCategories are seeded into every new account
var DefaultCategories = []string{
	"Salary",
	"Food",
	"Transport",
	"Housing",
	"Health",
	"Entertainment",
}

// CategoryService manages per-account transaction categories
type CategoryService struct {
	repo domain.CategoryRepository
}

// NewCategoryService creates a new CategoryService instance
func NewCategoryService(repo domain.CategoryRepository) *CategoryService {
	return &CategoryService{
		repo: repo,
	}
}

// Add stores a category name for an account
// Names are trimmed; adding an existing name is a no-op
func (s *CategoryService) Add(ctx context.Context, accountID, name string) (string, error) {
	if accountID == "" {
		return "", &domain.ValidationError{Field: "account_id", Reason: "cannot be empty"}
	}
	normalized, err := domain.NormalizeCategoryName(name)
	if err != nil {
		return "", err
	}

	if err := s.repo.AddCategory(ctx, domain.Category{AccountID: accountID, Name: normalized}); err != nil {
		return "", fmt.Errorf("failed to add category: %w", err)
	}
	return normalized, nil
}

// List returns the distinct category names of an account, sorted
func (s *CategoryService) List(ctx context.Context, accountID string) ([]string, error) {
	names, err := s.repo.ListCategories(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return names, nil
}

// SeedDefaults ensures the default categories exist for an account
// Existing names are left alone, so it is safe to call on every account open
func (s *CategoryService) SeedDefaults(ctx context.Context, accountID string) error {
	existing, err := s.List(ctx, accountID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	for _, name := range DefaultCategories {
		if have[name] {
			continue
		}
		if _, err := s.Add(ctx, accountID, name); err != nil {
			return fmt.Errorf("failed to seed category %s: %w", name, err)
		}
	}
	return nil
}
