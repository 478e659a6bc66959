package visitors

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultPlatePattern matches Indian registration plates such as MH01AB1234.
const DefaultPlatePattern = `^[A-Z]{2}\s?\d{2}\s?[A-Z]{1,2}\s?\d{4}$`

// PlateValidator checks vehicle identifiers against the configured format.
type PlateValidator struct {
	re *regexp.Regexp
}

func NewPlateValidator(pattern string) (*PlateValidator, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPlatePattern
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile plate pattern: %w", err)
	}
	return &PlateValidator{re: re}, nil
}

func (p *PlateValidator) Valid(plate string) bool {
	return p.re.MatchString(plate)
}

// NormalizeVehicle uppercases the identifier and strips all whitespace.
func NormalizeVehicle(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)
}
