package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/miren-dev/authbridge/errors"
	"github.com/miren-dev/authbridge/keys"
)

// OpenIDConfiguration is the discovery document served from
// /.well-known/openid-configuration. Only capabilities this server actually
// implements are advertised.
type OpenIDConfiguration struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	JwksURI                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

// KeySet is the slice of the key manager the discovery handlers need.
type KeySet interface {
	JWKS() (*keys.JWKS, error)
}

// WithKeys attaches the key manager used by the JWKS endpoint.
func (oa *OAuth2API) WithKeys(ks KeySet) *OAuth2API {
	oa.keySet = ks
	return oa
}

func (oa *OAuth2API) OpenIDConfigurationHandler(c echo.Context) error {
	base := oa.issuer

	return c.JSON(http.StatusOK, OpenIDConfiguration{
		Issuer:                            base,
		AuthorizationEndpoint:             base + "/oauth/authorize",
		TokenEndpoint:                     base + "/oauth/token",
		RegistrationEndpoint:              base + "/oauth/register",
		JwksURI:                           base + "/.well-known/jwks.json",
		ScopesSupported:                   []string{"openid", "profile", "email", "offline_access"},
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"ES256", "RS256"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	})
}

func (oa *OAuth2API) JWKSHandler(c echo.Context) error {
	jwks, err := oa.keySet.JWKS()
	if err != nil {
		log.Error().Err(err).Msg("failed to render JWKS")
		return c.JSON(http.StatusInternalServerError, errors.NewServerError("Failed to render key set"))
	}
	return c.JSON(http.StatusOK, jwks)
}
