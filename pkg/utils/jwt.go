package utils

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "crosspost"

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func ValidateToken(secretKey, tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid token signing method")
		}
		return []byte(secretKey), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
