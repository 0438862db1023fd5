package normalize

import (
	"math"
	"strconv"
	"strings"
)

// BaseCurrency is the currency all research costs are expressed in.
const BaseCurrency = "USD"

var (
	// currencyNames maps lower-case currency names and codes to ISO 4217
	// codes. Bare "rupees" resolves to LKR, bare "dollars" to USD and bare
	// "pounds" to GBP.
	currencyNames = map[string]string{
		"sri lankan rupees":  "LKR",
		"sri lankan rupee":   "LKR",
		"lankan rupees":      "LKR",
		"rupees":             "LKR",
		"rupee":              "LKR",
		"indian rupees":      "INR",
		"indian rupee":       "INR",
		"us dollars":         "USD",
		"us dollar":          "USD",
		"american dollars":   "USD",
		"dollars":            "USD",
		"dollar":             "USD",
		"british pounds":     "GBP",
		"pounds sterling":    "GBP",
		"pounds":             "GBP",
		"euros":              "EUR",
		"euro":               "EUR",
		"japanese yen":       "JPY",
		"yen":                "JPY",
		"thai baht":          "THB",
		"baht":               "THB",
		"australian dollars": "AUD",
		"canadian dollars":   "CAD",
		"singapore dollars":  "SGD",
		"swiss francs":       "CHF",
		"south african rand": "ZAR",
		"rand":               "ZAR",
	}

	// knownCodes is the set of ISO codes recognized verbatim in free text.
	knownCodes = map[string]struct{}{
		"LKR": {}, "INR": {}, "USD": {}, "GBP": {}, "EUR": {}, "JPY": {},
		"THB": {}, "AUD": {}, "CAD": {}, "SGD": {}, "CHF": {}, "ZAR": {},
	}

	countryCurrency = map[string]string{
		"australia":            "AUD",
		"brazil":               "BRL",
		"canada":               "CAD",
		"china":                "CNY",
		"france":               "EUR",
		"germany":              "EUR",
		"india":                "INR",
		"italy":                "EUR",
		"japan":                "JPY",
		"mexico":               "MXN",
		"singapore":            "SGD",
		"south africa":         "ZAR",
		"spain":                "EUR",
		"sri lanka":            "LKR",
		"switzerland":          "CHF",
		"thailand":             "THB",
		"united arab emirates": "AED",
		"united kingdom":       "GBP",
		"united states":        "USD",
	}

	zeroDecimal = map[string]struct{}{
		"JPY": {}, "KRW": {}, "VND": {}, "IDR": {}, "CLP": {}, "PYG": {}, "HUF": {},
	}
)

// CurrencyCode resolves a currency name or ISO code to its ISO code. Exact
// names win; otherwise the phrase is matched by prefix against the known
// names so "dollar" and "usd." still resolve.
func CurrencyCode(phrase string) (string, bool) {
	p := strings.ToLower(strings.TrimSpace(phrase))
	p = strings.Trim(p, ".,;:!?()")
	if p == "" {
		return "", false
	}
	if _, ok := knownCodes[strings.ToUpper(p)]; ok {
		return strings.ToUpper(p), true
	}
	if code, ok := currencyNames[p]; ok {
		return code, true
	}
	return "", false
}

// fuzzyCurrency matches a single word against the name table. It accepts the
// word when it is a prefix of a known name (at least three letters) or when a
// known name is a prefix of the word.
func fuzzyCurrency(word string) (string, bool) {
	w := strings.Trim(strings.ToLower(word), ".,;:!?()")
	if len(w) < 3 {
		return "", false
	}
	best, bestLen := "", 0
	for name := range currencyNames {
		if strings.HasPrefix(name, w) || strings.HasPrefix(w, name) {
			// Prefer the shortest name so "dollars" beats "dollars ..." variants
			// and results stay deterministic across map iteration order.
			if bestLen == 0 || len(name) < bestLen || (len(name) == bestLen && name < best) {
				best, bestLen = name, len(name)
			}
		}
	}
	if bestLen == 0 {
		return "", false
	}
	return currencyNames[best], true
}

// CurrencyForCountry returns the currency used in the given country, USD
// when the country is unknown.
func CurrencyForCountry(country string) string {
	if code, ok := countryCurrency[strings.ToLower(strings.TrimSpace(country))]; ok {
		return code
	}
	return BaseCurrency
}

// CurrencyForLocation derives the settlement currency from a "City, Country"
// location. The country is the last comma separated segment.
func CurrencyForLocation(location string) string {
	parts := strings.Split(location, ",")
	return CurrencyForCountry(parts[len(parts)-1])
}

// IsCurrencyCode reports whether s looks like an ISO 4217 code.
func IsCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// FormatAmount renders amount with thousands separators followed by the
// currency code. Currencies without minor units are rounded to whole numbers.
func FormatAmount(amount float64, code string) string {
	decimals := 2
	if _, ok := zeroDecimal[code]; ok {
		decimals = 0
		amount = math.Round(amount)
	}
	neg := amount < 0
	s := strconv.FormatFloat(math.Abs(amount), 'f', decimals, 64)
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteString(frac)
	b.WriteByte(' ')
	b.WriteString(code)
	return b.String()
}
