package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExtractBearer returns the token carried in an "Authorization: Bearer <token>"
// header, or "" if the header is missing or uses another scheme.
func ExtractBearer(h http.Header) string {
	v := strings.TrimSpace(h.Get("Authorization"))
	scheme, token, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}

// TokenFromJSON returns the access token from a response body shaped like
// {"data":{"accessToken":"..."}} or {"accessToken":"..."}. Malformed bodies
// yield "".
func TokenFromJSON(body []byte) string {
	var payload struct {
		AccessToken string `json:"accessToken"`
		Data        struct {
			AccessToken string `json:"accessToken"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Data.AccessToken != "" {
		return payload.Data.AccessToken
	}
	return payload.AccessToken
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// The bool is false for opaque tokens or tokens without exp.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
