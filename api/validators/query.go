package validators

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
)

const maxSearchLength = 100

func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be numeric").WithDetails(map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// SearchTerm returns the trimmed dashboard search query.
func SearchTerm(r *http.Request) string {
	return SanitizeString(r.URL.Query().Get("search"), maxSearchLength)
}

// SanitizeString trims input and caps it at maxLen bytes without splitting a
// multi-byte character.
func SanitizeString(input string, maxLen int) string {
	s := strings.TrimSpace(input)
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	s = s[:maxLen]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
