package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const sessionCookie = "todo_token"

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get(echo.HeaderAuthorization); strings.TrimSpace(h) != "" {
		return bearerTokenFromString(h)
	}
	if ck, err := r.Cookie(sessionCookie); err == nil && ck.Value != "" {
		if strings.Count(ck.Value, ".") != 2 {
			return "", errBadAuthorization
		}
		return ck.Value, nil
	}
	return "", errMissingAuthorization
}

func bearerTokenFromString(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(trimmed, "Bearer ")
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
