package jwt

import (
	"errors"
	"github.com/golang-jwt/jwt/v5"
	"os"
	"time"
)

type JWTClaim struct {
	UserId  uint   `json:"user_id"`
	Address string `json:"address"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

const RoleOps = "ops"

func GenerateJWT(userId uint, address string, role string) (token string, err error) {

	var claims = JWTClaim{
		userId,
		address,
		role,
		jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}

	resToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	secret := os.Getenv("JWT_SECRET")
	signedToken, err := resToken.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

func ValidateToken(signedToken string) (userId uint, address string, role string, err error) {
	token, err := jwt.ParseWithClaims(signedToken, &JWTClaim{}, func(t *jwt.Token) (interface{}, error) { return []byte(os.Getenv("JWT_SECRET")), nil })
	if err != nil {
		return 0, "", "", err
	}
	claims, ok := token.Claims.(*JWTClaim)
	if !ok {
		return 0, "", "", errors.New("error parsing claims")
	}
	if claims.UserId == 0 {
		return 0, "", "", errors.New("malformed data")
	}

	return claims.UserId, claims.Address, claims.Role, nil
}
