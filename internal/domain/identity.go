package domain

import "time"

const (
	RoleCustomer = "customer"
	RoleDriver   = "driver"

	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

// Identity is a platform account. PK: identity_id; GSIs on email and phone.
type Identity struct {
	IdentityID     string    `json:"id" dynamodbav:"identity_id"`
	Email          string    `json:"email" dynamodbav:"email,omitempty"`
	Phone          string    `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	PasswordHash   string    `json:"-" dynamodbav:"password_hash"`
	Name           string    `json:"name" dynamodbav:"name"`
	Role           string    `json:"role" dynamodbav:"role"`
	EmailConfirmed bool      `json:"email_confirmed" dynamodbav:"email_confirmed"`
	PhoneConfirmed bool      `json:"phone_confirmed" dynamodbav:"phone_confirmed"`
	AuthProvider   string    `json:"auth_provider" dynamodbav:"auth_provider"` // "local" | "google"
	GoogleSub      string    `json:"-" dynamodbav:"google_sub,omitempty"`
	CreatedAt      time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt      time.Time `json:"updated" dynamodbav:"updated_at"`
}

type RegisterIdentityRequest struct {
	Email             string `json:"email" validate:"required,email"`
	Phone             string `json:"phone"`
	Password          string `json:"password" validate:"required,min=8,max=72"`
	Name              string `json:"name" validate:"required"`
	Role              string `json:"role" validate:"required,oneof=customer driver"`
	VerificationToken string `json:"verification_token"`
}
