// Package echo exposes the OAuth 2.0 / OIDC endpoints over the echo
// framework. Handlers stay thin: protocol parsing and response shaping here,
// semantics in the services.
package echo

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/miren-dev/authbridge/domain"
	"github.com/miren-dev/authbridge/errors"
	"github.com/miren-dev/authbridge/services"
	"github.com/miren-dev/authbridge/upstream"
)

// GrantType enumeration for the token endpoint.
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
)

// TokenResponse is the token endpoint's success payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// OAuth2API holds the handler dependencies.
type OAuth2API struct {
	issuer   string
	flow     *services.FlowService
	tokens   *services.TokenService
	rotation *services.RotationService
	sessions *services.SessionService
	clients  *services.ClientService
	keySet   KeySet
}

func NewOAuth2API(
	issuer string,
	flow *services.FlowService,
	tokens *services.TokenService,
	rotation *services.RotationService,
	sessions *services.SessionService,
	clients *services.ClientService,
) *OAuth2API {
	return &OAuth2API{
		issuer:   issuer,
		flow:     flow,
		tokens:   tokens,
		rotation: rotation,
		sessions: sessions,
		clients:  clients,
	}
}

// RegisterRoutes registers the OAuth2 and OIDC routes.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	e.GET("/oauth/authorize", oa.AuthorizeHandler)
	e.GET("/oauth/callback", oa.CallbackHandler)
	e.POST("/oauth/token", oa.TokenHandler)
	e.POST("/oauth/register", oa.RegisterHandler)

	e.GET("/.well-known/openid-configuration", oa.OpenIDConfigurationHandler)
	e.GET("/.well-known/jwks.json", oa.JWKSHandler)

	// Internal surface for trusted backends exchanging a tsid for the
	// session's upstream tokens. Deploy behind network-level protection.
	e.GET("/internal/upstream-tokens", oa.UpstreamTokensHandler)
}

// AuthorizeHandler accepts a downstream authorization request and redirects
// the user agent to the upstream identity provider. Errors are returned as
// JSON rather than redirected: until the client and redirect URI validate,
// redirecting anywhere would be an open-redirect hazard, and past that point
// the upstream redirect replaces the error case entirely.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	params := services.AuthorizeParams{
		ResponseType:        c.QueryParam("response_type"),
		ClientID:            c.QueryParam("client_id"),
		RedirectURI:         c.QueryParam("redirect_uri"),
		Scope:               c.QueryParam("scope"),
		State:               c.QueryParam("state"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
	}

	redirect, err := oa.flow.Begin(c.Request().Context(), params)
	if err != nil {
		if oauthErr, ok := err.(*errors.OAuth2Error); ok {
			oauthErr.State = params.State
			return c.JSON(http.StatusBadRequest, oauthErr)
		}
		log.Error().Err(err).Msg("authorize request failed")
		return c.JSON(http.StatusInternalServerError, errors.NewServerError("Failed to process authorization request"))
	}

	return c.Redirect(http.StatusFound, redirect)
}

// CallbackHandler receives the upstream IDP redirect, completes the upstream
// exchange and sends the user agent back to the client with an authorization
// code.
func (oa *OAuth2API) CallbackHandler(c echo.Context) error {
	if upstreamErr := c.QueryParam("error"); upstreamErr != "" {
		log.Warn().
			Str("error", upstreamErr).
			Str("error_description", c.QueryParam("error_description")).
			Msg("upstream authorization denied")
		return c.JSON(http.StatusBadRequest, errors.NewAccessDenied("Upstream authorization was denied"))
	}

	state := c.QueryParam("state")
	code := c.QueryParam("code")
	if state == "" || code == "" {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidRequest("state and code are required"))
	}

	result, err := oa.flow.HandleCallback(c.Request().Context(), state, code)
	if err != nil {
		if oauthErr, ok := err.(*errors.OAuth2Error); ok {
			return c.JSON(oauthStatus(oauthErr, http.StatusBadRequest), oauthErr)
		}
		log.Error().Err(err).Msg("callback handling failed")
		return c.JSON(http.StatusInternalServerError, errors.NewServerError("Failed to complete authorization"))
	}

	return c.Redirect(http.StatusFound, result.ClientRedirect())
}

// TokenHandler serves the token endpoint for the authorization_code and
// refresh_token grants.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	ctx := c.Request().Context()

	clientID, clientSecret := oa.clientCredentials(c)
	client, err := oa.clients.Authenticate(ctx, clientID, clientSecret)
	if err != nil {
		if oauthErr, ok := err.(*errors.OAuth2Error); ok {
			return c.JSON(http.StatusUnauthorized, oauthErr)
		}
		log.Error().Err(err).Msg("client authentication failed")
		return c.JSON(http.StatusInternalServerError, errors.NewServerError("Failed to authenticate client"))
	}

	grantType := c.FormValue("grant_type")
	if !client.HasGrantType(grantType) {
		return c.JSON(http.StatusBadRequest, errors.NewUnauthorizedClient("Grant type not allowed for this client"))
	}

	var tokenResponse *TokenResponse
	var processErr error

	switch GrantType(grantType) {
	case GrantTypeAuthorizationCode:
		tokenResponse, processErr = oa.handleAuthorizationCodeGrant(c, client)
	case GrantTypeRefreshToken:
		tokenResponse, processErr = oa.handleRefreshTokenGrant(c, client)
	default:
		return c.JSON(http.StatusBadRequest, errors.NewUnsupportedGrantType())
	}

	if processErr != nil {
		if oauthErr, ok := processErr.(*errors.OAuth2Error); ok {
			return c.JSON(oauthStatus(oauthErr, http.StatusBadRequest), oauthErr)
		}
		log.Error().Err(processErr).Str("grant_type", grantType).Msg("token request failed")
		return c.JSON(http.StatusInternalServerError, errors.NewServerError("Failed to generate token"))
	}

	log.Info().
		Str("client_id", client.ID).
		Str("grant_type", grantType).
		Int("expires_in", tokenResponse.ExpiresIn).
		Msg("token issued")

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, tokenResponse)
}

// isGrantRejection reports whether a rotation failure means the presented
// grant itself is bad, as opposed to a transient backend failure.
func isGrantRejection(err error) bool {
	for _, sentinel := range []error{
		domain.ErrTokenNotFound,
		domain.ErrTokenReplayed,
		domain.ErrFamilyRevoked,
		domain.ErrFamilyNotFound,
		domain.ErrSessionNotFound,
		upstream.ErrSubjectChanged,
	} {
		if stderrors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// oauthStatus maps a protocol error to its HTTP status. server_error means a
// dependency (storage, upstream IDP) failed and the client should retry.
func oauthStatus(err *errors.OAuth2Error, fallback int) int {
	if err.Code == errors.ServerError {
		return http.StatusServiceUnavailable
	}
	return fallback
}

// clientCredentials extracts client authentication from HTTP Basic auth or,
// failing that, the form body.
func (oa *OAuth2API) clientCredentials(c echo.Context) (string, string) {
	if id, secret, ok := c.Request().BasicAuth(); ok {
		return id, secret
	}
	return c.FormValue("client_id"), c.FormValue("client_secret")
}

func (oa *OAuth2API) handleAuthorizationCodeGrant(c echo.Context, client *domain.Client) (*TokenResponse, error) {
	ctx := c.Request().Context()

	code := c.FormValue("code")
	redirectURI := c.FormValue("redirect_uri")
	codeVerifier := c.FormValue("code_verifier")
	if code == "" {
		return nil, errors.NewInvalidRequest("code is required")
	}
	if codeVerifier == "" {
		return nil, errors.NewInvalidPKCE("code_verifier is required")
	}

	session, scope, err := oa.flow.Redeem(ctx, client, code, redirectURI, codeVerifier)
	if err != nil {
		return nil, err
	}

	accessToken, err := oa.tokens.IssueAccessToken(session.Subject, client.ID, session.ID, scope)
	if err != nil {
		return nil, err
	}
	refreshToken, err := oa.rotation.Issue(ctx, session)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(oa.tokens.TokenTTL().Seconds()),
		RefreshToken: refreshToken,
		Scope:        strings.Join(scope, " "),
	}, nil
}

func (oa *OAuth2API) handleRefreshTokenGrant(c echo.Context, client *domain.Client) (*TokenResponse, error) {
	ctx := c.Request().Context()

	refreshToken := c.FormValue("refresh_token")
	if refreshToken == "" {
		return nil, errors.NewInvalidRequest("refresh_token is required")
	}

	result, err := oa.rotation.Rotate(ctx, refreshToken)
	if err != nil {
		if stderrors.Is(err, upstream.ErrUnavailable) {
			return nil, errors.NewServerError("Upstream identity provider unavailable")
		}
		if isGrantRejection(err) {
			// Replay, revocation and unknown tokens all collapse to
			// invalid_grant on the wire; details only go to the log.
			return nil, errors.NewInvalidGrant("Invalid refresh token")
		}
		// Anything else is a backend failure: the presented token may
		// still be good, so tell the client to retry, not to discard it.
		log.Error().Err(err).Msg("refresh token rotation failed")
		return nil, errors.NewServerError("Failed to rotate refresh token")
	}
	if result.Session.ClientID != client.ID {
		return nil, errors.NewInvalidGrant("Invalid refresh token")
	}

	accessToken, err := oa.tokens.IssueAccessToken(result.Session.Subject, client.ID, result.Session.ID, result.Session.Scope)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(oa.tokens.TokenTTL().Seconds()),
		RefreshToken: result.RefreshToken,
		Scope:        strings.Join(result.Session.Scope, " "),
	}, nil
}

// RegisterHandler implements dynamic client registration (RFC 7591).
func (oa *OAuth2API) RegisterHandler(c echo.Context) error {
	var req services.RegistrationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidRequest("Malformed registration request"))
	}

	resp, err := oa.clients.Register(c.Request().Context(), &req)
	if err != nil {
		if oauthErr, ok := err.(*errors.OAuth2Error); ok {
			return c.JSON(http.StatusBadRequest, oauthErr)
		}
		log.Error().Err(err).Msg("client registration failed")
		return c.JSON(http.StatusInternalServerError, errors.NewServerError("Failed to register client"))
	}

	return c.JSON(http.StatusCreated, resp)
}

// UpstreamTokensHandler exchanges a valid access token for the upstream
// token set of the session named by its tsid claim. The token's subject and
// audience must match the session's bindings.
func (oa *OAuth2API) UpstreamTokensHandler(c echo.Context) error {
	authHeader := c.Request().Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tokenString == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing_token"})
	}

	claims, err := oa.tokens.VerifyAccessToken(tokenString)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
	}

	clientID := ""
	if len(claims.Audience) > 0 {
		clientID = claims.Audience[0]
	}

	tokens, err := oa.sessions.UpstreamTokens(c.Request().Context(), claims.TokenSessionID, claims.Subject, clientID)
	if err != nil {
		// Unknown session and binding mismatch look identical to the caller.
		return c.JSON(http.StatusNotFound, echo.Map{"error": "session_not_found"})
	}

	return c.JSON(http.StatusOK, tokens)
}
