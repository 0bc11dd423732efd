package claims

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Part is one dot-separated segment of a compact token.
type Part struct {
	Raw []byte
	// JSON is set when Raw is a valid JSON document.
	JSON any
	// DecodeErr is set when the segment is not valid base64url.
	DecodeErr error
	// JSONErr is set when Raw could be decoded but is not JSON.
	JSONErr error
}

// Split decodes every segment of a compact token for display. Segments that
// fail to decode are reported on the part instead of failing the whole token.
func Split(token string) []Part {
	segments := strings.Split(strings.TrimSpace(token), ".")
	parts := make([]Part, 0, len(segments))
	for _, segment := range segments {
		parts = append(parts, decodePart(segment))
	}
	return parts
}

func decodePart(segment string) Part {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(segment, "="))
	if err != nil {
		return Part{DecodeErr: fmt.Errorf("invalid base64url segment: %w", err)}
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return Part{Raw: raw, JSONErr: err}
	}
	return Part{Raw: raw, JSON: value}
}
