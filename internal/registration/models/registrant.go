package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "confreg/pkg/domain-errors"
)

// Registrant is the paying attendee. Identity is append-only: rows are
// created once at first successful submission and never mutated afterwards.
//
// Invariants:
//   - Email and NationalID are each globally unique (store-enforced)
//   - All four personal fields are non-empty
type Registrant struct {
	ID         uuid.UUID `json:"id"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email"`
	NationalID string    `json:"national_id"`
	Phone      string    `json:"phone"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewRegistrant constructs a Registrant, validating the identity invariants.
func NewRegistrant(id uuid.UUID, fullName, email, nationalID, phone string, now time.Time) (*Registrant, error) {
	if fullName == "" || email == "" || nationalID == "" || phone == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "full name, email, national id and phone are required")
	}
	return &Registrant{
		ID:         id,
		FullName:   fullName,
		Email:      email,
		NationalID: nationalID,
		Phone:      phone,
		CreatedAt:  now,
	}, nil
}
