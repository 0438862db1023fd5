package trip

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tripcrew/tripcrew/runtime/planner/agent"
	"github.com/tripcrew/tripcrew/runtime/planner/normalize"
	"github.com/tripcrew/tripcrew/runtime/planner/tools"
)

// ErrMissingLocation indicates the setup output has no destination.
var ErrMissingLocation = errors.New("trip parameters have no location")

var setupPersona = agent.Persona{
	Role: "Trip Requirements Specialist",
	Goal: "Accurately capture all necessary details for a travel itinerary from the user. " +
		"Your final goal is to produce a JSON object with all the required information.",
	Backstory: "You are a friendly and efficient assistant who helps users plan their dream vacation. " +
		"You ask clarifying questions one by one until you have all the information needed to create a travel plan.",
}

// SetupTask builds the task that turns the initiating prompt into trip
// parameters, asking the user for whatever the prompt leaves out. Budget and
// dates recognized locally are handed to the agent as hints.
func SetupTask(prompt string, now time.Time, year int, human tools.HumanInput) agent.Task {
	var hints strings.Builder
	if b, ok := normalize.ParseBudget(prompt); ok {
		fmt.Fprintf(&hints, "- budget: %q (already parsed, do not ask)\n", b.String())
	}
	if d := normalize.ParseDateRange(prompt, year); d.Recognized() && !d.Flexible {
		fmt.Fprintf(&hints, "- travel_dates: %q (already parsed, do not ask)\n", d.String())
	} else if d.Flexible {
		fmt.Fprintf(&hints, "- travel_dates: %q (the user has no preferred dates, do not ask)\n", normalize.FlexibleToken)
	}
	known := hints.String()
	if known == "" {
		known = "- none\n"
	}

	desc := fmt.Sprintf(`Start by analyzing the initial user prompt and extracting ALL available information BEFORE asking any questions.

Initial user prompt: %q

Values recognized in the prompt:
%s
STEP 1 - EXTRACT. Fill this JSON from the prompt, leaving "null" for anything not present:
{"location": "null", "interests": "null", "budget": "null", "num_people": "null", "travel_dates": "null", "preferred_currency": "null"}
- location: the destination as "City, Country" (e.g. "mirissa" becomes "Mirissa, Sri Lanka").
- num_people: the party size (e.g. "8 people" becomes "8").
- interests: the whole portion of the prompt describing activities and preferences.
- budget: "AMOUNT CURRENCY_CODE" in one string (e.g. "50000 LKR", "250 USD").
- travel_dates: "YYYY-MM-DD to YYYY-MM-DD". Assume the year %d unless stated. Use "flexible" when the user has no preferred dates.

STEP 2 - ASK FOR MISSING INFO ONLY. Use the %s, one question at a time.
- If budget is still "null", ask for the budget.
- If travel_dates is still "null", ask: "What are your preferred travel dates? (You can say 'flexible' if you don't have specific dates)".
  Any answer meaning no preference becomes "flexible"; casual dates are converted to YYYY-MM-DD.
- Never ask about preferred_currency. If it is "null", use the local currency of the destination country (Sri Lanka LKR, India INR, Thailand THB, Japan JPY, Eurozone EUR, United Kingdom GBP, otherwise USD).

STEP 3 - OUTPUT. Current date is %s.`,
		prompt, known, year, ToolAskHuman, now.Format(normalize.DateLayout))

	return agent.Task{
		Name:        StageSetup,
		Persona:     setupPersona,
		Description: desc,
		ExpectedOutput: `Exactly one JSON object with the keys location, interests, budget, num_people, travel_dates and preferred_currency. ` +
			`No markdown, no code blocks, no additional text. Example: {"location": "Mirissa, Sri Lanka", "interests": "a villa with a pool", "budget": "50000 LKR", "num_people": "5", "travel_dates": "2025-08-05 to 2025-08-06", "preferred_currency": "LKR"}`,
		Tools: []agent.Tool{AskHumanTool(human)},
	}
}

// ParseSetup extracts, validates and normalizes the setup stage output. The
// settlement currency defaults to the destination's local currency.
func ParseSetup(text string, year int) (Params, error) {
	var p Params
	if err := paramsSchema.Decode(text, &p); err != nil {
		return Params{}, err
	}
	p.Location = strings.TrimSpace(p.Location)
	if isNull(p.Location) {
		return Params{}, ErrMissingLocation
	}
	if isNull(p.Interests) {
		p.Interests = ""
	}
	p = p.Normalize(year)
	if p.PreferredCurrency == "" {
		p.PreferredCurrency = normalize.CurrencyForLocation(p.Location)
	}
	return p, nil
}
