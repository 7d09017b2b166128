package adminapi

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// operatorClaims is the bearer token minted once at process start and
// printed to the startup log (spec.md SPEC_FULL.md §4.K's "analogous to
// this codebase's startup TLS-fingerprint banner"). It carries no identity
// beyond "this process trusts the holder" — there is no operator account
// system, only a single shared secret.
type operatorClaims struct {
	jwt.RegisteredClaims
}

// MintToken signs a long-lived bearer token with secret, grounded on the
// HS256 GenerateJWT pattern used elsewhere in the retrieval pack for
// service-to-service tokens.
func MintToken(secret []byte) (string, error) {
	claims := operatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
			Issuer:   "inksprintd-admin",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

var errInvalidToken = errors.New("admin token is invalid")

func verifyToken(tokenString string, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, &operatorClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return errInvalidToken
	}
	return nil
}
