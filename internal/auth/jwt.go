package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Realm identifies the JWT authentication realm.
type Realm string

const (
	// RealmService covers trusted platform services (the login flow, API gateways)
	// that open sessions and report activity.
	RealmService Realm = "service"
	// RealmAdmin covers security staff using the dashboard.
	RealmAdmin Realm = "admin"
)

// Claims holds the custom JWT claims for both realms.
type Claims struct {
	jwt.RegisteredClaims
	Realm   Realm  `json:"realm"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`    // admin realm: viewer, admin, superadmin
	Service string `json:"service,omitempty"` // service realm: calling service name
}

// JWTManager handles token generation and validation for both realms.
type JWTManager struct {
	secret        []byte
	audience      string
	serviceExpiry time.Duration
	adminExpiry   time.Duration
}

// NewJWTManager creates a JWT manager with realm-specific expiry durations.
// Tokens are issued for and only accepted with the given audience.
func NewJWTManager(secret, audience string, serviceExpiry, adminExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:        []byte(secret),
		audience:      audience,
		serviceExpiry: serviceExpiry,
		adminExpiry:   adminExpiry,
	}
}

// GenerateServiceToken creates a signed service-realm JWT.
func (m *JWTManager) GenerateServiceToken(service string) (string, error) {
	return m.sign(Claims{Realm: RealmService, Service: service}, uuid.Nil, m.serviceExpiry)
}

// GenerateAdminToken creates a signed admin-realm JWT.
func (m *JWTManager) GenerateAdminToken(adminID uuid.UUID, email, role string) (string, error) {
	if adminID == uuid.Nil {
		return "", fmt.Errorf("admin id is required")
	}
	return m.sign(Claims{Realm: RealmAdmin, Email: email, Role: role}, adminID, m.adminExpiry)
}

func (m *JWTManager) sign(claims Claims, subject uuid.UUID, expiry time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		ID:        uuid.New().String(),
	}
	if subject != uuid.Nil {
		claims.Subject = subject.String()
	} else {
		claims.Subject = claims.Service
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a JWT, returning claims if valid.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// ValidateTokenForRealm validates a token and ensures it belongs to the expected realm.
func (m *JWTManager) ValidateTokenForRealm(tokenString string, expectedRealm Realm) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Realm != expectedRealm {
		return nil, fmt.Errorf("expected realm %s, got %s", expectedRealm, claims.Realm)
	}
	return claims, nil
}

// ActorID returns the admin subject as a UUID, or nil for service tokens.
func (c *Claims) ActorID() *uuid.UUID {
	if c == nil || c.Realm != RealmAdmin {
		return nil
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil
	}
	return &id
}
