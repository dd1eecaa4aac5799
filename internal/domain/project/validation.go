package project

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Strob0t/projectchat/internal/domain"
)

const maxNameLength = 255

// MaxDescriptionLength is the longest accepted project description in bytes.
const MaxDescriptionLength = 2000

// ValidateName checks a project name: non-blank, max 255 chars, no control characters.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name exceeds %d characters: %w", maxNameLength, domain.ErrValidation)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("name contains control characters: %w", domain.ErrValidation)
		}
	}
	return nil
}

// ValidateDescription checks the description length.
func ValidateDescription(desc string) error {
	if len(desc) > MaxDescriptionLength {
		return fmt.Errorf("description exceeds %d characters: %w", MaxDescriptionLength, domain.ErrValidation)
	}
	return nil
}

// ValidateCreateRequest validates the fields of a project creation request.
func ValidateCreateRequest(req CreateRequest) error {
	if req.OwnerID == "" {
		return fmt.Errorf("owner is required: %w", domain.ErrValidation)
	}
	if err := ValidateName(req.Name); err != nil {
		return err
	}
	return ValidateDescription(req.Description)
}

// ValidateUpdateRequest validates the fields of a project update request.
func ValidateUpdateRequest(req UpdateRequest) error {
	if req.Name != nil {
		if err := ValidateName(*req.Name); err != nil {
			return err
		}
	}
	if req.Description != nil {
		if err := ValidateDescription(*req.Description); err != nil {
			return err
		}
	}
	return nil
}
