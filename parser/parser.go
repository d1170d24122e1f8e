package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-tap-menu/models"
)

// ValidateBeer ensures the scraper captured the fields a menu entry needs.
// Brewery, ABV and image are informative only.
func ValidateBeer(b *models.Beer) error {
	if b == nil {
		return fmt.Errorf("beer is nil")
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("beer missing name")
	}
	if strings.TrimSpace(b.Style) == "" {
		return fmt.Errorf("beer missing style for %s", b.Name)
	}
	if b.Rating == 0 {
		return fmt.Errorf("beer missing rating for %s", b.Name)
	}
	if strings.TrimSpace(b.Ratings) == "" {
		return fmt.Errorf("beer missing rating count for %s", b.Name)
	}
	return nil
}

// ParseRating converts the data-rating attribute to a number on the 0-5 scale.
func ParseRating(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty rating")
	}
	rating, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rating %q: %w", raw, err)
	}
	if rating < 0 || rating > 5 {
		return 0, fmt.Errorf("rating %v out of range", rating)
	}
	return rating, nil
}

// NormalizeText collapses internal whitespace runs and trims the result.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// NormalizeABV trims spacing from the scraped strength text. The value is
// kept as text since the site formats it inconsistently ("5.2% ABV", "N/A").
func NormalizeABV(abv string) string {
	return NormalizeText(abv)
}
