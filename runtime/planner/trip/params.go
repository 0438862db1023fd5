// Package trip holds the travel planning domain: the trip artifact produced
// by the setup stage, the research result, and the stage definitions of the
// research pipeline.
package trip

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tripcrew/tripcrew/runtime/planner/normalize"
)

type (
	// Params is the trip artifact produced once by the setup stage and
	// persisted across turns of a session.
	Params struct {
		// Location is the destination in "City, Country" form.
		Location string `json:"location"`
		// Interests is free text; a new turn replaces it with the new prompt.
		Interests string `json:"interests"`
		// Budget is "AMOUNT CODE" or "flexible".
		Budget string `json:"budget"`
		// NumPeople is the party size.
		NumPeople PartySize `json:"num_people"`
		// TravelDates is "YYYY-MM-DD to YYYY-MM-DD" or "flexible".
		TravelDates string `json:"travel_dates"`
		// PreferredCurrency is the ISO code the report settles in. Empty means
		// derive it from the destination country.
		PreferredCurrency string `json:"preferred_currency,omitempty"`
	}

	// PartySize decodes from either a JSON number or a numeric string.
	PartySize int
)

// UnmarshalJSON accepts 2, 2.0, "2" and "2 people". Null and non numeric
// strings decode to 0, which Normalize raises to 1.
func (p *PartySize) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*p = PartySize(n)
		return nil
	}
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("num_people: %w", err)
	}
	*p = 0
	if s == nil {
		return nil
	}
	if fields := strings.Fields(*s); len(fields) > 0 {
		if v, err := strconv.Atoi(fields[0]); err == nil {
			*p = PartySize(v)
		}
	}
	return nil
}

// Normalize canonicalizes the budget, travel window and currency fields.
// Unrecognized or missing budgets become flexible; unrecognized date text is
// kept as given.
func (p Params) Normalize(year int) Params {
	if b, err := normalize.ParseBudgetString(p.Budget); err == nil {
		p.Budget = b.String()
	} else {
		p.Budget = normalize.FlexibleToken
	}
	if isNull(p.TravelDates) {
		p.TravelDates = ""
	}
	p.TravelDates = normalize.ParseDateRange(p.TravelDates, year).String()
	p.PreferredCurrency = strings.ToUpper(strings.TrimSpace(p.PreferredCurrency))
	if p.PreferredCurrency == "NULL" || !normalize.IsCurrencyCode(p.PreferredCurrency) {
		p.PreferredCurrency = ""
	}
	if p.NumPeople < 1 {
		p.NumPeople = 1
	}
	return p
}

// SettlementCurrency is the preferred currency, else the destination
// country's currency, else USD.
func (p Params) SettlementCurrency() string {
	if p.PreferredCurrency != "" {
		return p.PreferredCurrency
	}
	return normalize.CurrencyForLocation(p.Location)
}

// FlexibleDates reports whether the travel window is open.
func (p Params) FlexibleDates() bool {
	return strings.EqualFold(strings.TrimSpace(p.TravelDates), normalize.FlexibleToken)
}

// Nights is the number of nights in the travel window, 0 when flexible or
// unparseable.
func (p Params) Nights() int {
	return normalize.Nights(p.TravelDates)
}

// WithInterests returns a copy whose interests are replaced by prompt.
func (p Params) WithInterests(prompt string) Params {
	p.Interests = prompt
	return p
}

func isNull(s string) bool {
	t := strings.ToLower(strings.TrimSpace(s))
	return t == "" || t == "null" || t == "none"
}
