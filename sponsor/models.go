// Package sponsor defines the accounts that hold and commit DoW credit.
package sponsor

import (
	"fmt"

	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/types"
)

// User is a platform account. Authentication and onboarding live in the
// surrounding application; here a user is a credit holder and potential
// issue manager.
type User struct {
	types.Entity
	ID    id.UserID `json:"id"`
	Login string    `json:"login"`
	Email string    `json:"email,omitempty"`
}

// Validate checks structural invariants.
func (u *User) Validate() error {
	if u.ID.IsNil() {
		return fmt.Errorf("sponsor: missing user id")
	}
	if u.Login == "" {
		return fmt.Errorf("sponsor: missing login")
	}
	return nil
}

// Company is an organization whose credit pool members may spend.
type Company struct {
	types.Entity
	ID   id.CompanyID `json:"id"`
	Name string       `json:"name"`
}

// Validate checks structural invariants.
func (c *Company) Validate() error {
	if c.ID.IsNil() {
		return fmt.Errorf("sponsor: missing company id")
	}
	if c.Name == "" {
		return fmt.Errorf("sponsor: missing company name")
	}
	return nil
}
