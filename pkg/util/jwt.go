package util

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrRoleMismatch token 的 role claim 不符
var ErrRoleMismatch = errors.New("token role not allowed")

// ParseRoleJWT 校验 HS256 token，并要求 role claim 等于 role（role 为空时不检查）
func ParseRoleJWT(tokenStr, secret, role string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	if role != "" {
		got, _ := claims["role"].(string)
		if got != role {
			return nil, fmt.Errorf("%w: %q", ErrRoleMismatch, got)
		}
	}
	return claims, nil
}

func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}
