// Package auth resolves the calling user of a request. Every inventory
// route is scoped to the user id placed in the gin context here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cosme-inventory/internal/models"
	"cosme-inventory/internal/util"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const userIDKey = "user_id"

// Resolver extracts a user id from a request
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// Middleware rejects requests no resolver accepts with 401
func Middleware(resolver Resolver) gin.HandlerFunc {
	logger := util.GetLogger()
	return func(c *gin.Context) {
		uid, err := resolver.Resolve(c.Request)
		if err != nil {
			logger.Debug("Request not authenticated", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

// UserID returns the id set by Middleware
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// HeaderResolver trusts the X-User-ID header. Development only.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (string, error) {
	uid := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if uid == "" {
		return "", fmt.Errorf("missing X-User-ID: %w", models.ErrUnauthenticated)
	}
	return uid, nil
}

// JWTResolver verifies HS256 bearer tokens carrying a user_id or sub claim
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver creates a resolver for tokens signed with secret
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (j *JWTResolver) Resolve(r *http.Request) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		return "", fmt.Errorf("missing bearer token: %w", models.ErrUnauthenticated)
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %v: %w", err, models.ErrUnauthenticated)
	}

	if uid, _ := claims["user_id"].(string); uid != "" {
		return uid, nil
	}
	if sub, _ := claims.GetSubject(); sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("token has no user claim: %w", models.ErrUnauthenticated)
}

// TokenVerifier is the part of the Firebase auth client the resolver uses
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
	VerifySessionCookieAndCheckRevoked(ctx context.Context, sessionCookie string) (*fbauth.Token, error)
}

// FirebaseResolver accepts a Firebase session cookie or a bearer ID token
type FirebaseResolver struct {
	verifier   TokenVerifier
	cookieName string
}

// NewFirebaseResolver creates a resolver backed by the Firebase Admin SDK
func NewFirebaseResolver(ctx context.Context, projectID, credentialsFile, cookieName string) (*FirebaseResolver, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase auth: %w", err)
	}
	return NewFirebaseResolverWithVerifier(client, cookieName), nil
}

// NewFirebaseResolverWithVerifier wraps an existing verifier
func NewFirebaseResolverWithVerifier(v TokenVerifier, cookieName string) *FirebaseResolver {
	if cookieName == "" {
		cookieName = "session"
	}
	return &FirebaseResolver{verifier: v, cookieName: cookieName}
}

func (f *FirebaseResolver) Resolve(r *http.Request) (string, error) {
	ctx := r.Context()

	if cookie, err := r.Cookie(f.cookieName); err == nil && cookie.Value != "" {
		token, err := f.verifier.VerifySessionCookieAndCheckRevoked(ctx, cookie.Value)
		if err == nil && token.UID != "" {
			return token.UID, nil
		}
		// fall through to the bearer token
	}

	raw := bearerToken(r)
	if raw == "" {
		return "", fmt.Errorf("no session cookie or bearer token: %w", models.ErrUnauthenticated)
	}
	token, err := f.verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("invalid id token: %v: %w", err, models.ErrUnauthenticated)
	}
	if token.UID == "" {
		return "", fmt.Errorf("id token has no uid: %w", models.ErrUnauthenticated)
	}
	return token.UID, nil
}

// NewResolver builds the resolver named by mode: firebase, jwt or header
func NewResolver(ctx context.Context, mode, jwtSecret, projectID, credentialsFile, cookieName string) (Resolver, error) {
	switch mode {
	case "header":
		util.GetLogger().Warn("AUTH_MODE=header trusts X-User-ID; do not use in production")
		return HeaderResolver{}, nil
	case "jwt":
		if jwtSecret == "" {
			return nil, errors.New("JWT_SECRET is required for AUTH_MODE=jwt")
		}
		return NewJWTResolver(jwtSecret), nil
	case "firebase", "":
		return NewFirebaseResolver(ctx, projectID, credentialsFile, cookieName)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}
