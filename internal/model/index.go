package model

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIndexNameLength bounds a normalized index name.
const MaxIndexNameLength = 63

// DefaultIndexName is substituted for reserved or empty index names.
const DefaultIndexName = "default"

// reservedIndexNames cannot be used as a normalized index identifier.
var reservedIndexNames = map[string]bool{
	"default":  false, // reserved as a name, but it IS the replacement target
	"index":    true,
	"indexes":  true,
	"_default": true,
	"system":   true,
	"admin":    true,
}

var validIndexChars = regexp.MustCompile(`^[a-z0-9-]+$`)

// NormalizeIndexName canonicalizes an index identifier per spec: lowercase,
// underscores become dashes, restricted charset, length-bounded, reserved
// names replaced with "default". Empty input also maps to "default".
func NormalizeIndexName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultIndexName, nil
	}

	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")

	if len(normalized) > MaxIndexNameLength {
		return "", fmt.Errorf("model.NormalizeIndexName: name %q exceeds %d characters after normalization", name, MaxIndexNameLength)
	}

	if !validIndexChars.MatchString(normalized) {
		return "", fmt.Errorf("model.NormalizeIndexName: name %q contains characters outside [a-z0-9-]", name)
	}

	if reservedIndexNames[normalized] {
		return DefaultIndexName, nil
	}

	return normalized, nil
}

// NormalizeDocumentID validates a client-supplied document id against the
// same normalization rules as index names, but does not replace reserved
// words — a document id collision with a reserved word is just a valid id.
func NormalizeDocumentID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("model.NormalizeDocumentID: id is empty")
	}
	if len(trimmed) > MaxIndexNameLength {
		return "", fmt.Errorf("model.NormalizeDocumentID: id %q exceeds %d characters", id, MaxIndexNameLength)
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if !validIndexChars.MatchString(normalized) {
		return "", fmt.Errorf("model.NormalizeDocumentID: id %q contains characters outside [a-z0-9-]", id)
	}
	return normalized, nil
}
