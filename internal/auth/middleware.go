package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ms-booking/internal/logger"
	"ms-booking/internal/utils"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	usernameKey contextKey = "username"
)

// Claims is the subset of a staff token the service cares about.
type Claims struct {
	Subject  string `json:"sub"`
	Username string `json:"preferred_username"`
}

// TokenVerifier checks a raw bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer's keys. Client id checks are skipped
// since staff tokens are issued to the admin console, not to this service.
func NewOIDCVerifier(ctx context.Context, issuer string) (TokenVerifier, error) {
	if issuer == "" {
		return nil, errors.New("OIDC issuer is not configured")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &oidcVerifier{
		verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
	}, nil
}

func (v *oidcVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	return &claims, nil
}

type hmacVerifier struct {
	secret []byte
}

// NewHMACVerifier accepts HS256 tokens signed with secret. Used for local
// development and tests where no identity provider is running.
func NewHMACVerifier(secret string) TokenVerifier {
	return &hmacVerifier{secret: []byte(secret)}
}

func (v *hmacVerifier) Verify(_ context.Context, rawToken string) (*Claims, error) {
	token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	sub, _ := mapClaims.GetSubject()
	if sub == "" {
		return nil, errors.New("subject claim not found in token")
	}
	username, _ := mapClaims["preferred_username"].(string)
	return &Claims{Subject: sub, Username: username}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func Middleware(verifier TokenVerifier, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				_ = utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", err.Error()))
				return
			}

			claims, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				_ = utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
			ctx = context.WithValue(ctx, usernameKey, claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}

// Actor names the staff member for audit columns, falling back to the subject.
func Actor(ctx context.Context) string {
	if name, ok := ctx.Value(usernameKey).(string); ok && name != "" {
		return name
	}
	return UserID(ctx)
}

// WithUserID is used by handlers and tests that resolve identity themselves.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}
