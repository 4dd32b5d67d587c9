package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/miren-dev/authbridge/domain"
	apperrors "github.com/miren-dev/authbridge/errors"
	"github.com/miren-dev/authbridge/internal/metrics"
)

// Grant and response types this server supports for registered clients.
var (
	supportedGrantTypes    = map[string]bool{"authorization_code": true, "refresh_token": true}
	supportedResponseTypes = map[string]bool{"code": true}
)

// RegistrationRequest is the subset of RFC 7591 client metadata this server
// accepts.
type RegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// RegistrationResponse is the metadata returned to a newly registered client.
// The plaintext secret appears here once and is never recoverable afterwards.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// ClientService registers and authenticates OAuth clients.
type ClientService struct {
	store domain.ClientStore
}

func NewClientService(store domain.ClientStore) *ClientService {
	return &ClientService{store: store}
}

// Register validates RFC 7591 metadata and persists a new client. Public
// clients (token_endpoint_auth_method "none") receive no secret and must use
// PKCE; everything else becomes a confidential client with a generated
// secret stored as a bcrypt hash.
func (s *ClientService) Register(ctx context.Context, req *RegistrationRequest) (*RegistrationResponse, error) {
	if len(req.RedirectURIs) == 0 {
		return nil, apperrors.NewInvalidRequest("redirect_uris is required")
	}
	for _, raw := range req.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" || u.Fragment != "" {
			return nil, apperrors.NewInvalidRequest(fmt.Sprintf("invalid redirect_uri: %s", raw))
		}
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	for _, gt := range grantTypes {
		if !supportedGrantTypes[gt] {
			return nil, apperrors.NewInvalidRequest(fmt.Sprintf("unsupported grant_type: %s", gt))
		}
	}

	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}
	for _, rt := range responseTypes {
		if !supportedResponseTypes[rt] {
			return nil, apperrors.NewInvalidRequest(fmt.Sprintf("unsupported response_type: %s", rt))
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "client_secret_basic"
	}

	clientType := domain.Confidential
	var plainSecret, secretHash string
	switch authMethod {
	case "none":
		clientType = domain.Public
	case "client_secret_basic", "client_secret_post":
		secret, err := generateClientSecret()
		if err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		plainSecret, secretHash = secret, string(hash)
	default:
		return nil, apperrors.NewInvalidRequest(fmt.Sprintf("unsupported token_endpoint_auth_method: %s", authMethod))
	}

	now := time.Now()
	client := &domain.Client{
		ID:            uuid.NewString(),
		SecretHash:    secretHash,
		Type:          clientType,
		Name:          req.ClientName,
		RedirectURIs:  req.RedirectURIs,
		GrantTypes:    grantTypes,
		ResponseTypes: responseTypes,
		Scope:         strings.Fields(req.Scope),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to store client: %w", err)
	}
	metrics.ClientsRegisteredTotal.Inc()

	log.Info().
		Str("client_id", client.ID).
		Str("client_name", client.Name).
		Str("client_type", string(clientType)).
		Msg("client registered")

	return &RegistrationResponse{
		ClientID:                client.ID,
		ClientSecret:            plainSecret,
		ClientIDIssuedAt:        now.Unix(),
		ClientName:              client.Name,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		Scope:                   strings.Join(client.Scope, " "),
		TokenEndpointAuthMethod: authMethod,
	}, nil
}

// SeedStatic registers pre-configured clients at startup. Clients that
// already exist in the store are left untouched so restarts are idempotent.
func (s *ClientService) SeedStatic(ctx context.Context, clients []*domain.Client) error {
	for _, client := range clients {
		if len(client.RedirectURIs) == 0 {
			return fmt.Errorf("static client %s has no redirect_uris", client.ID)
		}
		now := time.Now()
		client.CreatedAt, client.UpdatedAt = now, now
		if client.Type == "" {
			if client.SecretHash != "" {
				client.Type = domain.Confidential
			} else {
				client.Type = domain.Public
			}
		}
		if len(client.GrantTypes) == 0 {
			client.GrantTypes = []string{"authorization_code", "refresh_token"}
		}
		if len(client.ResponseTypes) == 0 {
			client.ResponseTypes = []string{"code"}
		}
		if err := s.store.CreateClient(ctx, client); err != nil {
			if errors.Is(err, domain.ErrClientExists) {
				continue
			}
			return fmt.Errorf("failed to seed client %s: %w", client.ID, err)
		}
		log.Info().Str("client_id", client.ID).Msg("static client registered")
	}
	return nil
}

// Get loads a registered client.
func (s *ClientService) Get(ctx context.Context, clientID string) (*domain.Client, error) {
	return s.store.GetClient(ctx, clientID)
}

// Authenticate verifies client credentials at the token endpoint. Public
// clients authenticate by identity alone and must present no secret;
// confidential clients must present the secret issued at registration.
func (s *ClientService) Authenticate(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, domain.ErrClientNotFound) {
			return nil, apperrors.NewInvalidClient("unknown client")
		}
		return nil, err
	}

	switch client.Type {
	case domain.Public:
		if clientSecret != "" {
			return nil, apperrors.NewInvalidClient("public client must not send a secret")
		}
	default:
		if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(clientSecret)); err != nil {
			log.Warn().Str("client_id", clientID).Msg("client authentication failed")
			return nil, apperrors.NewInvalidClient("invalid client credentials")
		}
	}
	return client, nil
}

// generateClientSecret returns a 256-bit random secret in base64url form.
func generateClientSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate client secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
