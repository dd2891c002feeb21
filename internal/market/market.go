// Package market handles exchange ticker parsing and validation, and
// infers a market's risk category from its title when the exchange does
// not supply one.
package market

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Categories used for exposure and correlation limits.
const (
	CategoryPolitics      = "politics"
	CategoryFinance       = "finance"
	CategorySports        = "sports"
	CategoryEntertainment = "entertainment"
	CategoryTechnology    = "technology"
	CategoryWeather       = "weather"
	CategoryOther         = "other"
)

// tickerRegex matches: {SERIES}[-{EVENT}[-{OUTCOME}]]
// Example: KXHIGHNY-25JUN10-T85
var tickerRegex = regexp.MustCompile(`^([A-Z][A-Z0-9]*)(?:-([A-Z0-9.]+))?(?:-([A-Z0-9.]+))?$`)

// eventDateRegex pulls a YYMONDD date out of an event segment.
var eventDateRegex = regexp.MustCompile(`^(\d{2}[A-Z]{3}\d{2})`)

const maxTickerLen = 64

var (
	ErrInvalidTicker   = errors.New("market: invalid ticker format")
	ErrInvalidCategory = errors.New("market: unknown category")
)

// Ticker is a parsed exchange ticker.
type Ticker struct {
	Raw     string `json:"ticker"`
	Series  string `json:"series"`
	Event   string `json:"event,omitempty"`
	Outcome string `json:"outcome,omitempty"`

	// EventDate is set when the event segment starts with a YYMONDD date.
	EventDate *time.Time `json:"event_date,omitempty"`
}

// ParseTicker parses and validates a ticker string.
// Format: {SERIES}[-{EVENT}[-{OUTCOME}]], uppercase.
func ParseTicker(ticker string) (*Ticker, error) {
	if len(ticker) > maxTickerLen {
		return nil, fmt.Errorf("%w: longer than %d characters", ErrInvalidTicker, maxTickerLen)
	}
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q (expected SERIES[-EVENT[-OUTCOME]])", ErrInvalidTicker, ticker)
	}

	t := &Ticker{
		Raw:     ticker,
		Series:  matches[1],
		Event:   matches[2],
		Outcome: matches[3],
	}
	if m := eventDateRegex.FindStringSubmatch(t.Event); m != nil {
		if date, err := time.Parse("06Jan02", titleMonth(m[1])); err == nil {
			t.EventDate = &date
		}
	}
	return t, nil
}

// titleMonth turns 25JUN10 into 25Jun10 for time.Parse.
func titleMonth(s string) string {
	return s[:3] + strings.ToLower(s[3:5]) + s[5:]
}

// ordered so ties resolve to the earlier category
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryPolitics, []string{"election", "president", "congress", "senate", "vote", "politics", "government", "policy"}},
	{CategoryFinance, []string{"stock", "market", "economy", "fed", "inflation", "gdp", "finance", "trading", "interest"}},
	{CategorySports, []string{"game", "team", "player", "sport", "match", "championship", "league", "season"}},
	{CategoryEntertainment, []string{"movie", "music", "award", "celebrity", "entertainment", "show", "film", "oscar"}},
	{CategoryTechnology, []string{"tech", "software", "ai", "startup", "apple", "google", "microsoft", "technology"}},
	{CategoryWeather, []string{"weather", "temperature", "rain", "snow", "storm", "hurricane", "climate", "forecast"}},
}

// Classify infers a category from free text by counting keyword hits.
// Keywords match whole words or word prefixes ("elections" hits
// "election"), so "ai" does not match "rain". Returns CategoryOther when
// nothing matches.
func Classify(text ...string) string {
	words := strings.FieldsFunc(strings.ToLower(strings.Join(text, " ")), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	best, bestScore := CategoryOther, 0
	for _, ck := range categoryKeywords {
		score := 0
		for _, kw := range ck.keywords {
			for _, w := range words {
				if w == kw || (len(kw) > 3 && strings.HasPrefix(w, kw)) {
					score++
					break
				}
			}
		}
		if score > bestScore {
			best, bestScore = ck.category, score
		}
	}
	return best
}

// NormalizeCategory lowercases c and checks it against the known set. An
// empty category is returned as-is so the caller can classify instead.
func NormalizeCategory(c string) (string, error) {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "", nil
	}
	if _, ok := knownCategories[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, c)
	}
	return c, nil
}

// Correlated sub-categories are accepted as-is so exposure grouping can
// use them.
var knownCategories = map[string]struct{}{
	CategoryPolitics: {}, CategoryFinance: {}, CategorySports: {}, CategoryEntertainment: {},
	CategoryTechnology: {}, CategoryWeather: {}, CategoryOther: {},
	"government": {}, "economy": {}, "banking": {}, "innovation": {},
}
