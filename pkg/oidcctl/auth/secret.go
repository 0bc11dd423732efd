package auth

import (
	"fmt"
	"os"
	"strings"
)

// ResolveClientSecret picks the client secret from the first source that is
// set: the literal value, an environment variable or a file.
func ResolveClientSecret(secret, secretEnv, secretFile string) (string, error) {
	if secret != "" {
		return secret, nil
	}
	if secretEnv != "" {
		value := strings.TrimSpace(os.Getenv(secretEnv))
		if value == "" {
			return "", fmt.Errorf("client secret env var not set: %s", secretEnv)
		}
		return value, nil
	}
	if secretFile != "" {
		bytes, err := os.ReadFile(secretFile)
		if err != nil {
			return "", fmt.Errorf("failed to read client secret file: %w", err)
		}
		value := strings.TrimSpace(string(bytes))
		if value == "" {
			return "", fmt.Errorf("client secret file is empty: %s", secretFile)
		}
		return value, nil
	}
	return "", fmt.Errorf("a client secret is required, use --secret, --secret-env or --secret-file")
}
