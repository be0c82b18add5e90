package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"fporacle/core/types"
)

// AuthConfig configures bearer token verification. Tokens are HS256 JWTs
// whose sub claim names the calling account.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	ClockSkew  time.Duration
}

type authenticator struct {
	secret []byte
	issuer string
	skew   time.Duration
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &authenticator{
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		issuer: strings.TrimSpace(cfg.Issuer),
		skew:   skew,
	}
}

// caller resolves the authenticated account for r.
func (a *authenticator) caller(r *http.Request) (types.AccountID, *RPCError) {
	if len(a.secret) == 0 {
		return "", &RPCError{HTTPStatus: http.StatusUnauthorized, Code: codeUnauthorized, Message: "RPC authentication secret not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", &RPCError{HTTPStatus: http.StatusUnauthorized, Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", &RPCError{HTTPStatus: http.StatusUnauthorized, Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", &RPCError{HTTPStatus: http.StatusUnauthorized, Code: codeUnauthorized, Message: "missing bearer token"}
	}
	subject, err := a.parseToken(token)
	if err != nil {
		return "", &RPCError{HTTPStatus: http.StatusUnauthorized, Code: codeUnauthorized, Message: "invalid RPC credentials", Data: err.Error()}
	}
	account, err := types.ParseAccountID(subject)
	if err != nil {
		return "", &RPCError{HTTPStatus: http.StatusUnauthorized, Code: codeUnauthorized, Message: "invalid RPC credentials", Data: err.Error()}
	}
	return account, nil
}

func (a *authenticator) parseToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.skew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", errors.New("token invalid")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("sub claim required")
	}
	return claims.Subject, nil
}

// IssueToken signs a caller token for account. It backs the devnet tooling
// and tests.
func IssueToken(secret, issuer string, account types.AccountID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  account.String(),
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}
