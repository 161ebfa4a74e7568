package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"twmarket_backend/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// OperatorClaims represents the claims in an operator JWT token
type OperatorClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// OperatorAuthMiddleware validates operator credentials. Either a Bearer
// token or a pre-shared API key (X-API-Key) is accepted; the key is checked
// against the bcrypt hash from OPERATOR_API_KEY_HASH.
func OperatorAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
			if err := checkAPIKey(apiKey); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Invalid API key",
				})
				c.Abort()
				return
			}
			c.Set("operator", "api_key")
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authorization header or X-API-Key is required",
			})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>" format
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid authorization header format. Use: Bearer <token>",
			})
			c.Abort()
			return
		}

		claims, err := validateOperatorToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": fmt.Sprintf("Invalid token: %v", err),
			})
			c.Abort()
			return
		}

		c.Set("operator", claims.Subject)
		c.Set("operator_role", claims.Role)
		c.Next()
	}
}

// validateOperatorToken validates an operator JWT token
func validateOperatorToken(tokenString string) (*OperatorClaims, error) {
	jwtSecret := config.AppConfig.OperatorJWTSecret
	if jwtSecret == "" {
		return nil, errors.New("OPERATOR_JWT_SECRET not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, errors.New("token has expired")
	}
	return claims, nil
}

func checkAPIKey(key string) error {
	hash := config.AppConfig.OperatorAPIKeyHash
	if hash == "" {
		return errors.New("OPERATOR_API_KEY_HASH not configured")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
}

// IssueOperatorToken signs a short-lived operator token. Used by the
// token CLI command for ad-hoc access.
func IssueOperatorToken(name string, ttl time.Duration) (string, error) {
	jwtSecret := config.AppConfig.OperatorJWTSecret
	if jwtSecret == "" {
		return "", errors.New("OPERATOR_JWT_SECRET not configured")
	}
	now := time.Now()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: name,
		Role: "operator",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
