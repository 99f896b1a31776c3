package authentication

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/the127/upyard/internal/utils/apiError"
)

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("authorization header is missing: %w", apiError.ErrApiUnauthorized)
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("authorization header is not a bearer token: %w", apiError.ErrApiUnauthorized)
	}

	return strings.TrimSpace(token), nil
}
