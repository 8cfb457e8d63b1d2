package tenants

import "time"

// Tenant is a client account of the product.
type Tenant struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"` // subscription plan; gates which providers may be connected
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
