// Package normalize turns free-text budgets and travel windows into the
// canonical forms carried by the trip artifact: "AMOUNT CODE" budgets and
// "YYYY-MM-DD to YYYY-MM-DD" date ranges.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FlexibleToken is the canonical text for an open budget or travel window.
const FlexibleToken = "flexible"

var (
	// ErrUnrecognizedBudget indicates no amount with a known currency could be
	// found in the input.
	ErrUnrecognizedBudget = errors.New("unrecognized budget")
	// ErrUnrecognizedDateRange indicates the input is neither flexible nor a
	// recognized date range.
	ErrUnrecognizedDateRange = errors.New("unrecognized date range")
)

type (
	// Budget is a normalized spending limit.
	Budget struct {
		// Amount is the limit expressed in Currency.
		Amount float64
		// Currency is the ISO 4217 code of Amount.
		Currency string
		// Unlimited marks a budget with no upper bound. Amount and Currency
		// are zero when set.
		Unlimited bool
	}

	budgetPattern struct {
		re *regexp.Regexp
		// strict disables the fuzzy currency fallback.
		strict bool
	}
)

var (
	digitComma = regexp.MustCompile(`(\d),(\d{3})\b`)
	digitSpace = regexp.MustCompile(`(\d) (\d{3})\b`)

	// Tried in order; the first pattern yielding a known currency wins. Only
	// an amount introduced by "budget is/of" may name its currency loosely.
	budgetPatterns = []budgetPattern{
		{re: regexp.MustCompile(`budget\s+(?:is|of)\s+(\d+(?:\.\d+)?)\s+([a-z][a-z .]*)`)},
		{re: regexp.MustCompile(`(\d+(?:\.\d+)?)\s+([a-z][a-z ]*?)\s+budget`), strict: true},
		{re: regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-z]{3})\b`), strict: true},
	}

	// amountPattern is the last resort after symbols: any amount followed by
	// an exact currency name.
	amountPattern = budgetPattern{re: regexp.MustCompile(`(\d+(?:\.\d+)?)\s+([a-z][a-z .]*)`), strict: true}

	symbolPatterns = []struct {
		re   *regexp.Regexp
		code string
	}{
		{regexp.MustCompile(`\$\s?(\d+(?:\.\d+)?)`), "USD"},
		{regexp.MustCompile(`₹\s?(\d+(?:\.\d+)?)`), "INR"},
		{regexp.MustCompile(`£\s?(\d+(?:\.\d+)?)`), "GBP"},
		{regexp.MustCompile(`€\s?(\d+(?:\.\d+)?)`), "EUR"},
	}

	unlimitedMarkers = []string{FlexibleToken, "no limit", "unlimited", "no budget"}
)

// String renders the canonical "AMOUNT CODE" form, or "flexible" for an
// unlimited budget.
func (b Budget) String() string {
	if b.Unlimited {
		return FlexibleToken
	}
	return strconv.FormatFloat(b.Amount, 'f', -1, 64) + " " + b.Currency
}

// ParseBudget extracts a budget from free text. It looks in turn for an
// amount tied to the word budget ("budget is 50,000 sri lankan rupees"), an
// amount followed by an ISO code ("500 usd"), a symbol prefixed amount
// ("$500") and finally an amount followed by a currency name ("700
// dollars"). ok is false when none is present.
func ParseBudget(text string) (Budget, bool) {
	norm := stripDigitGrouping(strings.ToLower(strings.TrimSpace(text)))
	for _, p := range budgetPatterns {
		if b, ok := p.match(norm); ok {
			return b, true
		}
	}
	for _, s := range symbolPatterns {
		if m := s.re.FindStringSubmatch(norm); m != nil {
			if amount, err := strconv.ParseFloat(m[1], 64); err == nil {
				return Budget{Amount: amount, Currency: s.code}, true
			}
		}
	}
	return amountPattern.match(norm)
}

func (p budgetPattern) match(norm string) (Budget, bool) {
	for _, m := range p.re.FindAllStringSubmatch(norm, -1) {
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if code, ok := resolveCurrency(m[2], p.strict); ok {
			return Budget{Amount: amount, Currency: code}, true
		}
	}
	return Budget{}, false
}

// ParseBudgetString parses the canonical form produced by Budget.String. It
// also accepts free text, falling back to ParseBudget.
func ParseBudgetString(s string) (Budget, error) {
	t := strings.TrimSpace(s)
	lower := strings.ToLower(t)
	if lower == "" || lower == "null" {
		return Budget{}, ErrUnrecognizedBudget
	}
	for _, m := range unlimitedMarkers {
		if strings.Contains(lower, m) {
			return Budget{Unlimited: true}, nil
		}
	}
	if fields := strings.Fields(t); len(fields) == 2 {
		code := strings.ToUpper(fields[1])
		if amount, err := strconv.ParseFloat(stripDigitGrouping(fields[0]), 64); err == nil && IsCurrencyCode(code) {
			return Budget{Amount: amount, Currency: code}, nil
		}
	}
	if b, ok := ParseBudget(t); ok {
		return b, nil
	}
	return Budget{}, fmt.Errorf("%w: %q", ErrUnrecognizedBudget, s)
}

// resolveCurrency matches the words following an amount. The longest exact
// name wins; the first word is then matched fuzzily unless strict is set.
func resolveCurrency(phrase string, strict bool) (string, bool) {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return "", false
	}
	for n := min(3, len(words)); n > 0; n-- {
		if code, ok := CurrencyCode(strings.Join(words[:n], " ")); ok {
			return code, true
		}
	}
	if strict {
		return "", false
	}
	return fuzzyCurrency(words[0])
}

func stripDigitGrouping(s string) string {
	for {
		next := digitSpace.ReplaceAllString(digitComma.ReplaceAllString(s, "$1$2"), "$1$2")
		if next == s {
			return s
		}
		s = next
	}
}
