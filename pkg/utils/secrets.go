package utils

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderRegex = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// InterpolateSecrets replaces {{KEY}} placeholders with values from secrets.
// Unknown keys are an error and are listed sorted in the message.
func InterpolateSecrets(s string, secrets map[string]string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	missing := make(map[string]struct{})
	out := placeholderRegex.ReplaceAllStringFunc(s, func(match string) string {
		key := placeholderRegex.FindStringSubmatch(match)[1]
		value, ok := secrets[key]
		if !ok {
			missing[key] = struct{}{}
			return match
		}
		return value
	})

	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", fmt.Errorf("unknown secret placeholder: %s", strings.Join(keys, ", "))
	}
	return out, nil
}

// InterpolateSecretsMap applies InterpolateSecrets to every value of m
func InterpolateSecretsMap(m map[string]string, secrets map[string]string) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		resolved, err := InterpolateSecrets(v, secrets)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}
