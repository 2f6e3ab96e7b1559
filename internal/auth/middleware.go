package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Claims identifies the console user behind a dashboard connection
type Claims struct {
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Groups    []string `json:"groups"`
	Hospitals []string `json:"hospitals"` // hospitals the user may watch
	jwt.RegisteredClaims
}

// CanSeeHospital reports whether updates scoped to hospitalID may be sent
// to this user. Unscoped updates are visible to everyone.
func (c *Claims) CanSeeHospital(hospitalID string) bool {
	if hospitalID == "" || c.Role == "admin" {
		return true
	}
	for _, h := range c.Hospitals {
		if h == hospitalID {
			return true
		}
	}
	return false
}

type contextKey string

const UserContextKey contextKey = "user"

const hospitalGroupPrefix = "/hospitals/"

// JWKSManager handles JWKS fetching and caching
type JWKSManager struct {
	jwks       keyfunc.Keyfunc
	issuerURL  string
	mu         sync.RWMutex
	lastUpdate time.Time
	logger     zerolog.Logger
}

// refresh fetches the JWKS from the OIDC provider
func (m *JWKSManager) refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Keycloak exposes its keys under the realm issuer
	jwksURL := strings.TrimSuffix(m.issuerURL, "/") + "/protocol/openid-connect/certs"
	m.logger.Info().Str("url", jwksURL).Msg("fetching JWKS")

	k, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return fmt.Errorf("failed to create keyfunc: %w", err)
	}

	m.jwks = k
	m.lastUpdate = time.Now()
	return nil
}

func (m *JWKSManager) getKeyfunc() jwt.Keyfunc {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.jwks == nil {
		return nil
	}
	return m.jwks.Keyfunc
}

// Options configures an Authenticator
type Options struct {
	// SkipAuth lets every request through as an admin dev user
	SkipAuth bool
	// Env other than "development" or "" forces signature verification
	Env string
	// VerifySignature forces verification in development too
	VerifySignature bool
	OIDCIssuer      string
}

// Authenticator validates bearer tokens on the local HTTP surface
type Authenticator struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	jwksOnce sync.Once
	jwks     *JWKSManager
	jwksErr  error
}

// NewAuthenticator creates an Authenticator
func NewAuthenticator(opts Options, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		opts:   opts,
		logger: logger.With().Str("component", "auth").Logger(),
		now:    time.Now,
	}
}

// DevClaims is the identity used when authentication is skipped
func DevClaims() *Claims {
	return &Claims{
		Email:  "dev@livesync.local",
		Name:   "Dev User",
		Role:   "admin",
		Groups: []string{"developers"},
	}
}

// Middleware validates JWT tokens and stores the claims in the request context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if a.opts.SkipAuth {
			a.logger.Debug().Str("path", r.URL.Path).Msg("SKIP_AUTH enabled, bypassing authentication")
			ctx := context.WithValue(r.Context(), UserContextKey, DevClaims())
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tokenString := extractToken(r)
		if tokenString == "" {
			a.logger.Warn().Str("path", r.URL.Path).Msg("missing authorization token")
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}

		claims, err := a.validateToken(tokenString)
		if err != nil {
			a.logger.Warn().Err(err).Msg("token validation failed")
			http.Error(w, fmt.Sprintf("Unauthorized: %v", err), http.StatusUnauthorized)
			return
		}

		a.logger.Debug().Str("email", claims.Email).Str("role", claims.Role).Msg("user authenticated")

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken gets the token from Authorization header or query parameter
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString != authHeader {
			return tokenString
		}
	}

	// Browsers cannot set headers on websocket upgrades
	return r.URL.Query().Get("token")
}

func (a *Authenticator) verifySignature() bool {
	if a.opts.VerifySignature {
		return true
	}
	return a.opts.Env != "development" && a.opts.Env != ""
}

// validateToken validates the JWT token with optional signature verification
func (a *Authenticator) validateToken(tokenString string) (*Claims, error) {
	verify := a.verifySignature()

	var token *jwt.Token
	var err error

	if verify {
		token, err = a.parseAndVerifyToken(tokenString)
		if err != nil {
			return nil, err
		}
	} else {
		a.logger.Debug().Msg("JWT signature verification disabled (development mode)")
		token, _, err = jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
		if err != nil {
			return nil, fmt.Errorf("failed to parse token: %w", err)
		}
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	claims := &Claims{}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	} else if preferredUsername, ok := mapClaims["preferred_username"].(string); ok {
		claims.Name = preferredUsername
	}
	claims.Role = extractRoleFromMapClaims(mapClaims)
	claims.Groups = extractGroupsFromMapClaims(mapClaims)
	claims.Hospitals = extractHospitals(mapClaims, claims.Groups)

	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Subject = sub
	}

	// Verified tokens had exp checked by the parser
	if !verify {
		if exp, ok := mapClaims["exp"].(float64); ok {
			expTime := time.Unix(int64(exp), 0)
			claims.ExpiresAt = jwt.NewNumericDate(expTime)
			if expTime.Before(a.now()) {
				return nil, errors.New("token expired")
			}
		}
	}

	return claims, nil
}

// parseAndVerifyToken verifies the JWT signature using JWKS
func (a *Authenticator) parseAndVerifyToken(tokenString string) (*jwt.Token, error) {
	a.jwksOnce.Do(func() {
		if a.opts.OIDCIssuer == "" {
			a.jwksErr = errors.New("OIDC_ISSUER not configured for JWT verification")
			return
		}
		a.jwks = &JWKSManager{issuerURL: a.opts.OIDCIssuer, logger: a.logger}
		if err := a.jwks.refresh(); err != nil {
			a.jwksErr = fmt.Errorf("failed to initialize JWKS: %w", err)
		}
	})
	if a.jwksErr != nil {
		return nil, a.jwksErr
	}

	kf := a.jwks.getKeyfunc()
	if kf == nil {
		return nil, errors.New("JWKS not available")
	}

	token, err := jwt.Parse(tokenString, kf, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return token, nil
}

// extractRoleFromMapClaims picks the strongest console role from Keycloak realm roles
func extractRoleFromMapClaims(mapClaims jwt.MapClaims) string {
	if realmAccess, ok := mapClaims["realm_access"].(map[string]interface{}); ok {
		if roles, ok := realmAccess["roles"].([]interface{}); ok {
			for _, priority := range []string{"admin", "supervisor", "agent", "viewer"} {
				for _, role := range roles {
					if roleStr, ok := role.(string); ok && roleStr == priority {
						return roleStr
					}
				}
			}
		}
	}

	if role, ok := mapClaims["role"].(string); ok && role != "" {
		return strings.ToLower(role)
	}

	return "viewer"
}

func extractGroupsFromMapClaims(mapClaims jwt.MapClaims) []string {
	var groups []string
	if groupsClaim, ok := mapClaims["groups"].([]interface{}); ok {
		for _, group := range groupsClaim {
			if groupStr, ok := group.(string); ok {
				groups = append(groups, groupStr)
			}
		}
	}
	return groups
}

// extractHospitals collects hospital ids from the hospitals/hospitalId
// claims and from /hospitals/<id> group paths
func extractHospitals(mapClaims jwt.MapClaims, groups []string) []string {
	seen := make(map[string]bool)
	var hospitals []string
	add := func(h string) {
		if h != "" && !seen[h] {
			seen[h] = true
			hospitals = append(hospitals, h)
		}
	}

	if list, ok := mapClaims["hospitals"].([]interface{}); ok {
		for _, h := range list {
			if hs, ok := h.(string); ok {
				add(hs)
			}
		}
	}
	if h, ok := mapClaims["hospitalId"].(string); ok {
		add(h)
	}
	for _, g := range groups {
		if strings.HasPrefix(g, hospitalGroupPrefix) {
			h := strings.TrimPrefix(g, hospitalGroupPrefix)
			if idx := strings.Index(h, "/"); idx > 0 {
				h = h[:idx]
			}
			add(h)
		}
	}
	return hospitals
}

// GetUserFromContext retrieves user claims from request context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}
