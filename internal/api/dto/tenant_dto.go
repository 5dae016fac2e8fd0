package dto

import "time"

// RegisterTenantRequest payload for tenant provisioning.
type RegisterTenantRequest struct {
	Name string `json:"name"`
}

// RegisterTenantResponse returns the generated API key exactly once.
type RegisterTenantResponse struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	APIKey   string `json:"api_key"`
}

// TokenRequest exchanges a tenant API key for a bearer token.
type TokenRequest struct {
	TenantName string `json:"tenant_name"`
	APIKey     string `json:"api_key"`
}

// TokenResponse carries the issued bearer token.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}
