package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nexusedu/credit-service/internal/infrastructure/redis"
)

// Context keys set by AgentMiddleware.
const (
	CtxAgentID   = "agent_id"
	CtxAgentRole = "agent_role"
)

// AgentMiddleware validates the bearer token of a staff agent and rejects
// tokens that have been revoked (no longer cached in Redis). The agent id
// and role land in the request context; the engines themselves never see
// tokens.
func AgentMiddleware(redisClient redis.RedisClient, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			tokenStr := parts[1]
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			agentID, ok := claims["agent_id"].(string)
			if !ok || agentID == "" {
				http.Error(w, "invalid agent_id in token", http.StatusUnauthorized)
				return
			}
			role, _ := claims["role"].(string)

			// Check token in Redis
			redisKey := fmt.Sprintf("agent:%s:token", agentID)
			storedToken, err := redisClient.Get(r.Context(), redisKey)
			if err != nil || storedToken != tokenStr {
				slog.Error("invalid or revoked token", "agent_id", agentID, "error", err)
				http.Error(w, "invalid or revoked token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), CtxAgentID, agentID)
			ctx = context.WithValue(ctx, CtxAgentRole, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
