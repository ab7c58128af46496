// Package filter enforces the output invariants every provider result must
// meet before it leaves the service.
package filter

import (
	"log/slog"
	"strings"

	"github.com/dharmasatrya/awardsearch/internal/models"
)

// Rules are the per provider output rules. The zero value only drops
// itineraries that have no segments.
type Rules struct {
	DropWithoutFares bool
}

// RuleSet looks up Rules by provider name.
type RuleSet map[string]Rules

// ParseFarelessProviders reads "etihad,virgin" into a RuleSet that drops
// fareless itineraries for the listed providers.
func ParseFarelessProviders(s string) RuleSet {
	rules := make(RuleSet)
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			rules[name] = Rules{DropWithoutFares: true}
		}
	}
	return rules
}

func (r RuleSet) For(provider string) Rules {
	return r[provider]
}

func Apply(provider string, itineraries []models.Itinerary, rules Rules) []models.Itinerary {
	result := make([]models.Itinerary, 0, len(itineraries))

	dropped := 0
	for _, it := range itineraries {
		if matches(it, rules) {
			result = append(result, it)
		} else {
			dropped++
		}
	}

	if dropped > 0 {
		slog.Info("dropped itineraries", "provider", provider, "dropped", dropped, "kept", len(result))
	}
	return result
}

func matches(it models.Itinerary, rules Rules) bool {
	if len(it.Segments) == 0 {
		return false
	}
	if rules.DropWithoutFares && len(it.FareDetails) == 0 {
		return false
	}
	return true
}
