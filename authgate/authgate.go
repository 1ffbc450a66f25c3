// Package authgate implements the auth gate (C13): Echo middleware that
// admits a request carrying either a valid session from the external
// auth collaborator (package auth) or a valid API key whose group is on
// the configured management access-group list.
package authgate

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"fnrelay.dev/api"
	"fnrelay.dev/apikeys"
	"fnrelay.dev/auth"
)

const (
	bearerPrefix  = "Bearer "
	apiKeyHeader  = "X-API-Key"
	contextKeyKey = "authgate_principal"
)

// Principal identifies who a request is authenticated as, set in the
// Echo context by Middleware for downstream handlers to read.
type Principal struct {
	Kind    string // "session" or "api_key"
	UserID  string
	GroupID string
	Scopes  []string
}

// AccessGroups resolves the current API_ACCESS_GROUPS setting (C4) into
// the list of key groups permitted through the management gate, kept as
// a function so a live setting refresh is reflected without restarting
// the gate.
type AccessGroups func() ([]string, error)

// Gate is C13's middleware collaborator.
type Gate struct {
	authService   auth.AuthService
	keys          *apikeys.Store
	accessGroups  AccessGroups
	signupMu      sync.Mutex
	signupEnabled bool
}

// New builds a Gate and captures the first-run signup toggle: signup
// stays enabled for the remainder of this process's lifetime only if no
// user exists at construction time, per §4.9.
func New(authService auth.AuthService, keys *apikeys.Store, accessGroups AccessGroups) (*Gate, error) {
	users, err := authService.ListUsers()
	if err != nil {
		return nil, err
	}
	return &Gate{
		authService:   authService,
		keys:          keys,
		accessGroups:  accessGroups,
		signupEnabled: len(users) == 0,
	}, nil
}

// SignupEnabled reports whether the external auth collaborator's signup
// endpoint should be exposed, per §4.9's first-run bootstrap rule.
func (g *Gate) SignupEnabled() bool {
	g.signupMu.Lock()
	defer g.signupMu.Unlock()
	return g.signupEnabled
}

// Signup creates the first-run administrator account. It only ever
// succeeds once per process: the toggle captured in New is never
// re-evaluated against the store, matching §4.9's "disabled for the
// remainder of that process's lifetime" rule even if a caller races two
// signup requests.
func (g *Gate) Signup(username, password string) (*auth.User, string, error) {
	g.signupMu.Lock()
	enabled := g.signupEnabled
	g.signupEnabled = false
	g.signupMu.Unlock()
	if !enabled {
		return nil, "", errSignupDisabled
	}

	user, err := g.authService.CreateUser(auth.CreateUserRequest{
		Username: username,
		Password: password,
		Roles:    []string{auth.RoleAdmin},
	})
	if err != nil {
		return nil, "", err
	}
	token, err := g.authService.GenerateToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

var errSignupDisabled = errors.New("signup is disabled")

// Middleware returns Echo middleware enforcing §4.9: admit a valid
// session or a valid management-group API key, otherwise 401.
func (g *Gate) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if principal, ok := g.authenticateSession(c); ok {
				admit(c, principal)
				return next(c)
			}
			if principal, ok := g.authenticateAPIKey(c); ok {
				admit(c, principal)
				return next(c)
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
	}
}

func (g *Gate) authenticateSession(c echo.Context) (*Principal, bool) {
	header := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, false
	}
	token := strings.TrimPrefix(header, bearerPrefix)
	if token == "" {
		return nil, false
	}
	claims, err := g.authService.ValidateToken(token)
	if err != nil {
		return nil, false
	}
	return &Principal{Kind: "session", UserID: claims.UserID, Scopes: claims.Roles}, true
}

func (g *Gate) authenticateAPIKey(c echo.Context) (*Principal, bool) {
	secret := c.Request().Header.Get(apiKeyHeader)
	if secret == "" {
		return nil, false
	}
	groupID, err := g.keys.AuthenticateGroup(secret)
	if err != nil {
		return nil, false
	}
	allowed, err := g.accessGroups()
	if err != nil {
		return nil, false
	}
	for _, group := range allowed {
		if group == groupID {
			return &Principal{Kind: "api_key", GroupID: groupID, Scopes: []string{groupID}}, true
		}
	}
	return nil, false
}

// admit stores the authenticated principal in the Echo context and
// bridges it into the generic scope-authorization context keys so
// handlers and route groups can use api.RequireScope/api.RequireAllScopes
// for finer-grained access control than the gate itself enforces.
func admit(c echo.Context, p *Principal) {
	c.Set(contextKeyKey, p)
	api.SetScopes(c, p.Scopes)
	api.SetUser(c, &api.AuthUser{ID: p.UserID, Scopes: p.Scopes})
}

// GetPrincipal retrieves the authenticated principal set by Middleware.
func GetPrincipal(c echo.Context) (*Principal, bool) {
	p, ok := c.Get(contextKeyKey).(*Principal)
	return p, ok
}
