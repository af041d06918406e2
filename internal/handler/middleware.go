package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/booklend/lending-engine/internal/domain"
	"github.com/booklend/lending-engine/pkg/response"
)

type contextKey string

const actorContextKey contextKey = "actor"

// Claims carried in the bearer token issued by the account service.
type Claims struct {
	UserID  string `json:"user_id"`
	IsStaff bool   `json:"is_staff"`
	jwt.RegisteredClaims
}

// AuthMiddleware authenticates requests with an HMAC-signed bearer token and
// places the resulting actor on the request context.
func AuthMiddleware(secret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				response.Unauthorized(w, "Missing bearer token")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(
				strings.TrimPrefix(header, "Bearer "),
				claims,
				func(t *jwt.Token) (interface{}, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
					}
					return []byte(secret), nil
				},
			)
			if err != nil || !token.Valid {
				response.Unauthorized(w, "Invalid bearer token")
				return
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				response.Unauthorized(w, "Invalid bearer token")
				return
			}

			actor := domain.Actor{UserID: userID, IsStaff: claims.IsStaff}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorContextKey, actor)))
		})
	}
}

func actorFrom(r *http.Request) domain.Actor {
	actor, _ := r.Context().Value(actorContextKey).(domain.Actor)
	return actor
}
