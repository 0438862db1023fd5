package trip

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/tripcrew/tripcrew/runtime/planner/agent"
	"github.com/tripcrew/tripcrew/runtime/planner/normalize"
	"github.com/tripcrew/tripcrew/runtime/planner/tools"
)

// Tool names as presented to the agents.
const (
	ToolAskHuman = "Human Input Tool"
	ToolWeather  = "Weather Tool"
	ToolCurrency = "Currency Conversion Tool"
	ToolSearch   = "Web Search Tool"
)

// DefaultSearchLimit bounds web searches per research stage.
const DefaultSearchLimit = 3

var currencyPair = regexp.MustCompile(`(?i)\b([a-z]{3})\b\W+(?:to\W+|into\W+|in\W+)?\b([a-z]{3})\b`)

// AskHumanTool asks the user a question through h. Failures, including the
// suspension timeout, abort the task.
func AskHumanTool(h tools.HumanInput) agent.Tool {
	return agent.Tool{
		Name:        ToolAskHuman,
		Description: "Ask the user a single question and wait for the answer. Input: the question text.",
		Run: func(ctx context.Context, input string) (string, error) {
			q := strings.TrimSpace(input)
			if q == "" {
				return "The question must not be empty.", nil
			}
			answer, err := h.Ask(ctx, q)
			if err != nil {
				return "", agent.Abort(err)
			}
			return answer, nil
		},
	}
}

// WeatherTool fetches the forecast for the trip destination over the given
// canonical date range. The input may name a different place.
func WeatherTool(geo tools.Geocoder, fc tools.Forecaster, location, dates string) agent.Tool {
	return agent.Tool{
		Name:        ToolWeather,
		Description: fmt.Sprintf("Get the daily weather forecast for %s between %s. Input: the city name.", location, dates),
		Run: func(ctx context.Context, input string) (string, error) {
			place := strings.TrimSpace(input)
			if place == "" {
				place = location
			}
			rng, ok := normalize.ParseCanonicalRange(dates)
			if !ok {
				return "No concrete travel dates are available, so no forecast can be fetched. Give seasonal advice instead.", nil
			}
			pos, err := geo.Geocode(ctx, place)
			if err != nil {
				return "", err
			}
			days, err := fc.Forecast(ctx, pos.Latitude, pos.Longitude, rng.Start, rng.End)
			if err != nil {
				return "", err
			}
			return tools.WeatherReport(place, days), nil
		},
	}
}

// CurrencyTool returns the conversion rate between two currencies as JSON.
func CurrencyTool(rates tools.Rates) agent.Tool {
	return agent.Tool{
		Name:        ToolCurrency,
		Description: `Get the conversion rate between two currencies. Input: "FROM to TO", for example "USD to LKR". Returns JSON {"from", "to", "rate"} where 1 FROM equals rate TO.`,
		Run: func(ctx context.Context, input string) (string, error) {
			from, to, ok := parsePair(input)
			if !ok {
				return `Could not read a currency pair. Use the form "USD to LKR".`, nil
			}
			rate, err := rates.Rate(ctx, from, to)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(map[string]any{"from": from, "to": to, "rate": rate})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

// SearchTool runs web searches and stops serving results after limit calls.
func SearchTool(s tools.Searcher, limit int) agent.Tool {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	var used atomic.Int32
	return agent.Tool{
		Name:        ToolSearch,
		Description: fmt.Sprintf("Search the web. Input: the search query. At most %d searches are allowed.", limit),
		Run: func(ctx context.Context, input string) (string, error) {
			if int(used.Add(1)) > limit {
				return "Search limit reached. Use the results you already have and give your final answer.", nil
			}
			results, err := s.Search(ctx, strings.TrimSpace(input))
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "No results found.", nil
			}
			var b strings.Builder
			for _, r := range results {
				fmt.Fprintf(&b, "Title: %s\nLink: %s\nSnippet: %s\n---\n", r.Title, r.Link, r.Snippet)
			}
			return b.String(), nil
		},
	}
}

// parsePair reads "USD to LKR", "usd,lkr" or {"from": "USD", "to": "LKR"}.
func parsePair(input string) (string, string, bool) {
	var obj map[string]string
	if err := json.Unmarshal([]byte(input), &obj); err == nil {
		from := firstNonEmpty(obj["from"], obj["from_currency"], obj["base"])
		to := firstNonEmpty(obj["to"], obj["to_currency"], obj["target"])
		if from != "" && to != "" {
			return strings.ToUpper(from), strings.ToUpper(to), true
		}
	}
	m := currencyPair.FindStringSubmatch(input)
	if m == nil {
		return "", "", false
	}
	from, to := strings.ToUpper(m[1]), strings.ToUpper(m[2])
	if from == "TO" || to == "TO" {
		return "", "", false
	}
	return from, to, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
