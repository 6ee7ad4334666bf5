package domain

import (
	"strings"
	"unicode/utf8"
)

const maxCategoryLength = 64

// Category is a user-defined label for transactions
type Category struct {
	AccountID string
	Name      string
}

// NormalizeCategoryName trims and validates a category name
func NormalizeCategoryName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &ValidationError{Field: "category", Reason: "cannot be empty"}
	}
	if utf8.RuneCountInString(name) > maxCategoryLength {
		return "", &ValidationError{Field: "category", Reason: "too long (max 64 characters)"}
	}
	return name, nil
}
