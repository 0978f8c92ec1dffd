package tooladapter

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/garyjia/statecore/pkg/utils"
)

// buildHeaders resolves default headers and then auth headers, so auth wins
func buildHeaders(cfg Config, secrets map[string]string) (map[string]string, error) {
	resolved, err := utils.InterpolateSecretsMap(cfg.Headers, secrets)
	if err != nil {
		return nil, fmt.Errorf("%w: headers: %v", ErrInvalidConfig, err)
	}
	headers := make(map[string]string, len(resolved)+1)
	for k, v := range resolved {
		headers[http.CanonicalHeaderKey(k)] = v
	}

	name, value, err := authHeader(cfg.Auth, secrets)
	if err != nil {
		return nil, err
	}
	if name != "" {
		headers[http.CanonicalHeaderKey(name)] = value
	}
	return headers, nil
}

func authHeader(auth AuthConfig, secrets map[string]string) (string, string, error) {
	switch auth.Type {
	case "", AuthNone:
		return "", "", nil

	case AuthBearer:
		token := secrets["API_KEY"]
		if token == "" {
			token = secrets["TOKEN"]
		}
		if token == "" {
			return "", "", fmt.Errorf("%w: bearer auth requires an API_KEY or TOKEN secret", ErrInvalidConfig)
		}
		prefix := auth.Prefix
		if prefix == "" {
			prefix = "Bearer"
		}
		return headerOr(auth.HeaderName, "Authorization"), prefix + " " + token, nil

	case AuthAPIKey:
		key := secrets["API_KEY"]
		if key == "" {
			return "", "", fmt.Errorf("%w: api_key auth requires an API_KEY secret", ErrInvalidConfig)
		}
		value := key
		if auth.Prefix != "" {
			value = auth.Prefix + " " + key
		}
		return headerOr(auth.HeaderName, "X-API-Key"), value, nil

	case AuthBasic:
		user, pass := secrets["USERNAME"], secrets["PASSWORD"]
		if user == "" || pass == "" {
			return "", "", fmt.Errorf("%w: basic auth requires USERNAME and PASSWORD secrets", ErrInvalidConfig)
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		return headerOr(auth.HeaderName, "Authorization"), "Basic " + encoded, nil

	default:
		return "", "", fmt.Errorf("%w: unknown auth type %q", ErrInvalidConfig, auth.Type)
	}
}

func headerOr(name, def string) string {
	if name == "" {
		return def
	}
	return name
}
