package trip

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tripcrew/tripcrew/runtime/planner/normalize"
)

type (
	// Research is the structured result of the research stage. Costs are in
	// the base currency (USD).
	Research struct {
		Items    []Item `json:"items"`
		TotalUSD USD    `json:"total_estimated_cost_usd"`
	}

	// Item is one researched activity, meal or accommodation.
	Item struct {
		Type        string `json:"type"`
		Name        string `json:"name"`
		Description string `json:"description"`
		CostUSD     USD    `json:"cost_usd"`
		Link        string `json:"link"`
	}

	// USD decodes an amount given as a number, a numeric string ("150",
	// "$150", "1,200") or null.
	USD float64
)

// UnmarshalJSON implements json.Unmarshaler.
func (u *USD) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*u = USD(n)
		return nil
	}
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("usd amount: %w", err)
	}
	*u = 0
	if s == nil {
		return nil
	}
	clean := strings.NewReplacer("$", "", ",", "", "USD", "", "usd", "").Replace(*s)
	if v, err := strconv.ParseFloat(strings.TrimSpace(clean), 64); err == nil {
		*u = USD(v)
	}
	return nil
}

// ParseResearch extracts and validates the research stage output.
func ParseResearch(text string) (Research, error) {
	var r Research
	if err := researchSchema.Decode(text, &r); err != nil {
		return Research{}, err
	}
	for i := range r.Items {
		if isNull(r.Items[i].Link) {
			r.Items[i].Link = ""
		}
	}
	return r, nil
}

// Total sums the item costs. It ignores the reported total, which models
// often get wrong.
func (r Research) Total() float64 {
	var sum float64
	for _, it := range r.Items {
		sum += float64(it.CostUSD)
	}
	return sum
}

// Table renders the items as a markdown list with costs converted to
// currency at rate (one USD equals rate units). Only converted amounts are
// shown.
func (r Research) Table(rate float64, currency string) string {
	var b strings.Builder
	for _, it := range r.Items {
		name := it.Name
		if it.Link != "" {
			name = fmt.Sprintf("[%s](%s)", it.Name, it.Link)
		}
		kind := it.Type
		if kind == "" {
			kind = "item"
		}
		fmt.Fprintf(&b, "- %s (%s): %s", name, kind, normalize.FormatAmount(float64(it.CostUSD)*rate, currency))
		if d := strings.TrimSpace(it.Description); d != "" {
			b.WriteString(" - ")
			b.WriteString(d)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Total: %s", normalize.FormatAmount(r.Total()*rate, currency))
	return b.String()
}
