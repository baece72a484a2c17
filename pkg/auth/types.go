package auth

import "time"

// User is an account. PasswordHash never leaves the server.
type User struct {
	ID                    int64     `json:"id"`
	Name                  string    `json:"name"`
	Email                 string    `json:"email"`
	PasswordHash          string    `json:"-"`
	BillingCustomerHandle *string   `json:"-"`
	CreatedAt             time.Time `json:"createdAt"`
}

// HasBillingCustomer reports whether a billing customer was created
func (u *User) HasBillingCustomer() bool {
	return u.BillingCustomerHandle != nil && *u.BillingCustomerHandle != ""
}

// AuditLog is one security-relevant event
type AuditLog struct {
	UserID       *int64    `json:"user_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
