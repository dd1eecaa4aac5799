// Package project defines the Project domain entity.
package project

import "time"

// Project is the entity a conversation is scoped to. Exactly one user owns it.
type Project struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new project.
type CreateRequest struct {
	OwnerID     string `json:"-"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UpdateRequest holds optional fields for a partial project update.
// Nil pointers leave the corresponding field unchanged.
type UpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}
