package domain

import "time"

// ClientType represents the type of OAuth2 client.
type ClientType string

const (
	// Confidential clients can securely store secrets.
	Confidential ClientType = "confidential"
	// Public clients cannot securely store secrets (IDE plugins, SPAs, CLIs).
	Public ClientType = "public"
)

// Client represents a registered OAuth2 client application. SecretHash is a
// bcrypt hash; the plaintext secret is returned exactly once at registration
// time and never stored.
type Client struct {
	ID            string     `bson:"client_id" json:"client_id"`
	SecretHash    string     `bson:"secret_hash,omitempty" json:"-"`
	Type          ClientType `bson:"client_type" json:"client_type"`
	Name          string     `bson:"client_name,omitempty" json:"client_name,omitempty"`
	RedirectURIs  []string   `bson:"redirect_uris" json:"redirect_uris"`
	GrantTypes    []string   `bson:"grant_types" json:"grant_types"`
	ResponseTypes []string   `bson:"response_types" json:"response_types"`
	Scope         []string   `bson:"scope,omitempty" json:"scope,omitempty"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at" json:"updated_at"`
}

// HasRedirectURI reports whether uri exactly matches a registered URI.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// HasGrantType reports whether the client may use the given grant type.
func (c *Client) HasGrantType(grantType string) bool {
	for _, gt := range c.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}
