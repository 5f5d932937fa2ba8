package domain

import (
	"time"
)

// Client represents a registered OAuth 2.0 client application
type Client struct {
	ClientID         string    `json:"client_id"`
	ClientSecretHash string    `json:"-"`
	ClientName       string    `json:"client_name"`
	RedirectURIs     []string  `json:"redirect_uris"`
	Scopes           []string  `json:"scopes"`
	Trusted          bool      `json:"trusted"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsConfidential reports whether the client authenticates with a secret.
func (c *Client) IsConfidential() bool {
	return c.ClientSecretHash != ""
}

// User is the resource owner profile row the userinfo projection reads from.
// Authentication of users happens outside this server.
type User struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	FullName     string            `json:"full_name,omitempty"`
	AvatarURL    string            `json:"avatar_url,omitempty"`
	Bio          string            `json:"bio,omitempty"`
	SocialLinks  map[string]string `json:"social_links,omitempty"`
	IsActive     bool              `json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Profile is the subset of User fields exposed through /userinfo
type Profile struct {
	ID          string            `json:"id"`
	Username    string            `json:"username"`
	FullName    string            `json:"full_name"`
	AvatarURL   string            `json:"avatar_url"`
	Bio         string            `json:"bio"`
	Email       string            `json:"email"`
	SocialLinks map[string]string `json:"social_links"`
}

// AuthorizationCode represents an OAuth 2.0 authorization code
type AuthorizationCode struct {
	Code                string    `json:"-"`
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	CodeChallenge       string    `json:"-"`
	CodeChallengeMethod string    `json:"-"`
	ExpiresAt           time.Time `json:"expires_at"`
	Used                bool      `json:"used"`
	CreatedAt           time.Time `json:"created_at"`
}

// Expired reports whether the code can no longer be exchanged at now.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ConsentTicket records an authorize request waiting for the resource
// owner's decision in the consent UI. It is redeemable once.
type ConsentTicket struct {
	Ticket              string    `json:"-"`
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	State               string    `json:"state,omitempty"`
	CodeChallenge       string    `json:"-"`
	CodeChallengeMethod string    `json:"-"`
	ExpiresAt           time.Time `json:"expires_at"`
	CreatedAt           time.Time `json:"created_at"`
}

// Expired reports whether the ticket can no longer be redeemed at now.
func (t *ConsentTicket) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// RefreshToken represents an OAuth 2.0 refresh token
type RefreshToken struct {
	Token      string     `json:"-"`
	ClientID   string     `json:"client_id"`
	UserID     string     `json:"user_id"`
	Scope      string     `json:"scope"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Revoked    bool       `json:"revoked"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Usable reports whether the token may still produce new access tokens at now.
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}
