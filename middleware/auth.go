package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"csr-volunteer/cache"
	"csr-volunteer/models"
	"csr-volunteer/utils"
)

// Principal is the authenticated caller. Role and active state are read
// from the database on every request, not trusted from the token.
type Principal struct {
	UserID    int64
	Name      string
	Email     string
	Role      models.Role
	TokenID   string
	ExpiresAt time.Time
}

// HasRole reports whether the caller holds one of roles.
func (p Principal) HasRole(roles ...models.Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

type ctxKey int

const principalKey ctxKey = iota

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Authenticate verifies the bearer token and loads the caller.
func Authenticate(db *sql.DB, tokens *utils.TokenIssuer, denylist cache.TokenDenylist, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var error models.Error

			tokenString, ok := bearerToken(r)
			if !ok {
				error.Message = "Missing or invalid authorization header."
				utils.RespondWithError(w, http.StatusUnauthorized, error)
				return
			}

			claims, err := tokens.Parse(tokenString)
			if err != nil {
				error.Message = "Invalid token."
				if errors.Is(err, utils.ErrTokenExpired) {
					error.Message = "Token expired."
				}
				utils.RespondWithError(w, http.StatusUnauthorized, error)
				return
			}

			revoked, err := denylist.IsRevoked(r.Context(), claims.TokenID)
			if err != nil {
				log.WithError(err).Error("checking token denylist")
				error.Message = "Server error."
				utils.RespondWithError(w, http.StatusInternalServerError, error)
				return
			}
			if revoked {
				error.Message = "Token has been revoked."
				utils.RespondWithError(w, http.StatusUnauthorized, error)
				return
			}

			p := Principal{UserID: claims.UserID, TokenID: claims.TokenID, ExpiresAt: claims.ExpiresAt}
			var role string
			var active bool
			err = db.QueryRowContext(r.Context(), `SELECT name, email, role, active FROM users WHERE users_id = ?`, claims.UserID).
				Scan(&p.Name, &p.Email, &role, &active)
			if err == sql.ErrNoRows {
				error.Message = "User not found."
				utils.RespondWithError(w, http.StatusUnauthorized, error)
				return
			} else if err != nil {
				log.WithError(err).Error("loading authenticated user")
				error.Message = "Server error."
				utils.RespondWithError(w, http.StatusInternalServerError, error)
				return
			}
			if !active {
				error.Message = "Account is deactivated."
				utils.RespondWithError(w, http.StatusForbidden, error)
				return
			}
			p.Role = models.Role(role)

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole lets through callers holding one of roles. It must run after
// Authenticate.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				utils.RespondWithError(w, http.StatusUnauthorized, models.Error{Message: "Authentication required."})
				return
			}
			if !p.HasRole(roles...) {
				utils.RespondWithError(w, http.StatusForbidden, models.Error{Message: "You do not have permission to access this resource"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
