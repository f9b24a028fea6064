package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"csr-volunteer/models"
)

var ErrTokenExpired = errors.New("token expired")

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

// Claims is the decoded content of an access token.
type Claims struct {
	UserID    int64
	Role      models.Role
	Name      string
	Email     string
	TokenID   string
	ExpiresAt time.Time
}

func (t *TokenIssuer) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Issue returns a signed token for the user and the claims it carries.
func (t *TokenIssuer) Issue(user models.User) (string, Claims, error) {
	if t.Secret == "" {
		return "", Claims{}, errors.New("token secret is not set")
	}
	issuedAt := t.now()
	claims := Claims{
		UserID:    user.ID,
		Role:      user.Role,
		Name:      user.Name,
		Email:     user.Email,
		TokenID:   uuid.NewString(),
		ExpiresAt: issuedAt.Add(t.TTL),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":     t.Issuer,
		"user_id": user.ID,
		"role":    string(user.Role),
		"name":    user.Name,
		"email":   user.Email,
		"jti":     claims.TokenID,
		"iat":     issuedAt.Unix(),
		"exp":     claims.ExpiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(t.Secret))
	if err != nil {
		return "", Claims{}, err
	}
	return signed, claims, nil
}

// Parse verifies the signature, algorithm and expiry of a token.
func (t *TokenIssuer) Parse(tokenString string) (Claims, error) {
	parser := jwt.Parser{SkipClaimsValidation: true}
	token, err := parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(t.Secret), nil
	})
	if err != nil {
		return Claims{}, errors.New("invalid token")
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, errors.New("invalid token claims")
	}
	if !mc.VerifyExpiresAt(t.now().Unix(), true) {
		return Claims{}, ErrTokenExpired
	}
	if t.Issuer != "" && !mc.VerifyIssuer(t.Issuer, true) {
		return Claims{}, errors.New("invalid token issuer")
	}

	userID, ok := mc["user_id"].(float64)
	if !ok {
		return Claims{}, errors.New("user_id not found in token")
	}
	exp, _ := mc["exp"].(float64)
	claims := Claims{
		UserID:    int64(userID),
		ExpiresAt: time.Unix(int64(exp), 0),
	}
	if role, ok := mc["role"].(string); ok {
		claims.Role = models.Role(role)
	}
	claims.Name, _ = mc["name"].(string)
	claims.Email, _ = mc["email"].(string)
	claims.TokenID, _ = mc["jti"].(string)
	if claims.TokenID == "" {
		return Claims{}, errors.New("jti not found in token")
	}
	return claims, nil
}
