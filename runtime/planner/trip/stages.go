package trip

import (
	"context"
	"fmt"
	"strings"

	"github.com/tripcrew/tripcrew/runtime/planner/agent"
	"github.com/tripcrew/tripcrew/runtime/planner/normalize"
	"github.com/tripcrew/tripcrew/runtime/planner/pipeline"
	"github.com/tripcrew/tripcrew/runtime/planner/tools"
)

// Stage names.
const (
	StageSetup       = "setup"
	StageLocalData   = "local_data"
	StageResearch    = "research"
	StageBudgetCheck = "budget_check"
	StageReport      = "report"
)

type (
	// Capabilities are the external fetchers the research stages use.
	Capabilities struct {
		Geocoder   tools.Geocoder
		Forecaster tools.Forecaster
		Rates      tools.Rates
		Searcher   tools.Searcher
		// SearchLimit bounds web searches in the research stage.
		SearchLimit int
	}

	// Brief is the per-turn view of the trip parameters the research stages
	// are written against.
	Brief struct {
		Params Params
		// Budget is the parsed budget; Unlimited when flexible.
		Budget normalize.Budget
		// BudgetUSD is the budget converted to USD, 0 when unlimited or when
		// the conversion failed.
		BudgetUSD float64
		// Settlement is the currency the report displays.
		Settlement string
		// Nights is the length of stay, 0 when the dates are flexible.
		Nights int
	}
)

// NewBrief resolves the budget in USD ahead of the research stages. A failed
// conversion degrades to a budget stated in its original currency.
func NewBrief(ctx context.Context, p Params, rates tools.Rates) Brief {
	b := Brief{Params: p, Settlement: p.SettlementCurrency(), Nights: p.Nights()}
	budget, err := normalize.ParseBudgetString(p.Budget)
	if err != nil {
		budget = normalize.Budget{Unlimited: true}
	}
	b.Budget = budget
	if budget.Unlimited {
		return b
	}
	if budget.Currency == normalize.BaseCurrency {
		b.BudgetUSD = budget.Amount
		return b
	}
	if rates != nil {
		if rate, err := rates.Rate(ctx, budget.Currency, normalize.BaseCurrency); err == nil && rate > 0 {
			b.BudgetUSD = budget.Amount * rate
		}
	}
	return b
}

// BudgetInstruction tells the research and verification stages what the
// spending ceiling is.
func (b Brief) BudgetInstruction() string {
	switch {
	case b.Budget.Unlimited:
		return "The user has not specified a budget. Suggest a range of options from budget-friendly to luxury."
	case b.BudgetUSD > 0:
		return fmt.Sprintf("The total available budget is %.2f USD. All suggested activities and accommodation must fit within this budget, "+
			"stay CLOSE to it and MUST BE LESS THAN OR EQUAL to it.", b.BudgetUSD)
	default:
		return fmt.Sprintf("The total available budget is %s. Convert it to USD using the rate in your context. "+
			"All suggested activities and accommodation must fit within this budget.", normalize.FormatAmount(b.Budget.Amount, b.Budget.Currency))
	}
}

// AccommodationInstruction asks for lodging matching the length of stay.
func (b Brief) AccommodationInstruction() string {
	switch {
	case b.Nights > 0:
		return fmt.Sprintf("You MUST research and suggest one suitable accommodation for a %d-night stay.", b.Nights)
	case b.Params.FlexibleDates():
		return "Since dates are flexible, you can optionally suggest one accommodation suitable for a 2-3 night stay as an example."
	default:
		return ""
	}
}

// WeatherInstruction tells the local data stage whether to fetch a forecast.
func (b Brief) WeatherInstruction() string {
	if _, ok := normalize.ParseCanonicalRange(b.Params.TravelDates); ok {
		return fmt.Sprintf("Use the %s to get the forecast for %s between %s.", ToolWeather, b.Params.Location, b.Params.TravelDates)
	}
	return fmt.Sprintf("The user has not provided specific travel dates. You cannot use the %s. "+
		"Instead, provide general advice about the best seasons to visit.", ToolWeather)
}

// ShowRate reports whether the report should display the conversion rate:
// only when the budget was given in another currency than the settlement one.
func (b Brief) ShowRate() bool {
	return b.Budget.Unlimited || b.Budget.Currency != b.Settlement
}

// ResearchPipeline returns the four research stages for the brief. It must be
// built once per turn: the search tool counts its uses.
func ResearchPipeline(b Brief, caps Capabilities) pipeline.Definition {
	p := b.Params
	local := agent.Task{
		Name: StageLocalData,
		Persona: agent.Persona{
			Role:      "Local Data Specialist",
			Goal:      "Fetch weather and currency data for the travel destination.",
			Backstory: "An analyst providing real-time travel insights.",
		},
		Description: fmt.Sprintf("Fetch the currency conversion rate from USD to %s for %s.\n%s",
			normalize.CurrencyForLocation(p.Location), p.Location, b.WeatherInstruction()),
		ExpectedOutput: "A summary of the weather forecast for the travel dates, or seasonal advice, and the USD to local currency conversion rate.",
		Tools:          currencyTools(caps.Rates),
	}
	if _, ok := normalize.ParseCanonicalRange(p.TravelDates); ok && caps.Geocoder != nil && caps.Forecaster != nil {
		local.Tools = append(local.Tools, WeatherTool(caps.Geocoder, caps.Forecaster, p.Location, p.TravelDates))
	}

	research := agent.Task{
		Name: StageResearch,
		Persona: agent.Persona{
			Role:      "Expert City Researcher",
			Goal:      "Efficiently find a specific number of activities and accommodation within a budget.",
			Backstory: "A travel enthusiast who finds the best spots tailored to your needs, focusing on speed and accuracy.",
		},
		Description: fmt.Sprintf(`For a group of %d people traveling to %s with interests in %q.

TRAVEL DATES: %s

%s
%s

You will receive context from a data specialist that includes a real-time currency conversion rate. Use that precise rate to convert any local prices to USD.

For each item (especially accommodation, restaurants and specific activities) use the %s to find a relevant webpage and put it in the "link" field, or null when none is available.
Aim to use the search tool no more than %d times.

Your research MUST include:
1. The best options matching the interests and the budget, including 3 meals (breakfast, lunch, dinner) per day.
2. %s`,
			p.NumPeople, p.Location, p.Interests, p.TravelDates,
			b.BudgetInstruction(), b.AccommodationInstruction(),
			ToolSearch, searchLimit(caps), orDefault(b.AccommodationInstruction(), "Any accommodation the interests call for.")),
		ExpectedOutput: `A single JSON object with a key "items", a list of objects with keys "type", "name", "description", "cost_usd" (number) and "link" (string or null), ` +
			`and a key "total_estimated_cost_usd". Example: {"items": [{"type": "accommodation", "name": "Mirissa Beach Villa", "description": "A villa with a pool for 4 guests.", "cost_usd": 150, "link": "https://example.com/villa"}], "total_estimated_cost_usd": 150}`,
	}
	if caps.Searcher != nil {
		research.Tools = []agent.Tool{SearchTool(caps.Searcher, caps.SearchLimit)}
	}

	verify := agent.Task{
		Name: StageBudgetCheck,
		Persona: agent.Persona{
			Role:      "Budget Verification Analyst",
			Goal:      `Critically analyze the researched items and their estimated costs against the budget. Provide a clear "go" or "no-go" verdict with justification.`,
			Backstory: "A meticulous financial analyst with a knack for sniffing out hidden costs. You are firm but fair.",
		},
		Description: fmt.Sprintf("Analyze the research from the city expert.\n%s\n"+
			"Sum up the total estimated cost of ALL items provided by the researcher and compare it to the available budget. "+
			"Provide a clear 'go' or 'no-go' verdict with a brief justification. The user's original budget was %q.",
			b.BudgetInstruction(), p.Budget),
		ExpectedOutput: "A budget feasibility verdict (Go/No-Go) comparing the total estimated cost in USD against the available budget.",
	}

	report := agent.Task{
		Name: StageReport,
		Persona: agent.Persona{
			Role:      "Head Travel Concierge",
			Goal:      "Synthesize all gathered information into a cohesive, beautifully formatted travel itinerary with weather insights and converted costs.",
			Backstory: "A world-class concierge known for personalized travel experiences, meticulous about financial accuracy.",
		},
		Description:    reportDescription(b, reportRateStep(b.Settlement)),
		ExpectedOutput: fmt.Sprintf("A complete markdown report with a travel plan, budget analysis and weather or seasonal insights. All costs are in %s and no calculations are shown.", b.Settlement),
		Tools:          currencyTools(caps.Rates),
	}

	return pipeline.Definition{
		Name: "trip-research",
		Stages: []pipeline.Stage{
			{Name: StageLocalData, Task: local},
			{Name: StageResearch, Context: []string{StageLocalData}, Task: research},
			{Name: StageBudgetCheck, Context: []string{StageResearch}, Task: verify},
			{
				Name:    StageReport,
				Context: []string{StageBudgetCheck, StageLocalData, StageResearch},
				Task:    report,
				Prepare: prepareReport(b, caps.Rates),
			},
		},
	}
}

// prepareReport converts the research items once with a single fetched rate
// and hands the report stage a rendered item list. When the research output
// does not parse or the rate is unavailable the stage keeps the raw context
// and its conversion tool.
func prepareReport(b Brief, rates tools.Rates) func(context.Context, agent.Task, []agent.Output) (agent.Task, []agent.Output) {
	return func(ctx context.Context, task agent.Task, inputs []agent.Output) (agent.Task, []agent.Output) {
		var raw string
		for _, in := range inputs {
			if in.Stage == StageResearch {
				raw = in.Text
			}
		}
		res, err := ParseResearch(raw)
		if err != nil || rates == nil {
			return task, inputs
		}
		rate := 1.0
		if b.Settlement != normalize.BaseCurrency {
			if rate, err = rates.Rate(ctx, normalize.BaseCurrency, b.Settlement); err != nil || rate <= 0 {
				return task, inputs
			}
		}
		step := fmt.Sprintf("The conversion rate has already been fetched: 1 USD = %g %s. Do NOT call any tool. "+
			"The converted item list is provided in your context under %q; use those amounts exactly.", rate, b.Settlement, "converted_items")
		task.Description = reportDescription(b, step)
		task.Tools = nil
		out := append([]agent.Output{}, inputs...)
		out = append(out, agent.Output{Stage: "converted_items", Text: res.Table(rate, b.Settlement)})
		return task, out
	}
}

func reportRateStep(settlement string) string {
	return fmt.Sprintf("Use the %s ONCE to get the conversion rate from USD to %s, and use that single rate for every amount in the report.", ToolCurrency, settlement)
}

func reportDescription(b Brief, rateStep string) string {
	p := b.Params
	rateRule := "Do NOT display the USD to " + b.Settlement + " conversion rate in the report: the budget was already given in " + b.Settlement + "."
	if b.ShowRate() {
		rateRule = "Mention the USD to " + b.Settlement + " conversion rate once."
	}
	var flex string
	if p.FlexibleDates() {
		flex = fmt.Sprintf("The travel dates are flexible: mention this prominently and suggest the best seasons to visit %s with reasons (weather, prices, crowds).\n", p.Location)
	}
	return fmt.Sprintf(`Create a final, human-readable travel itinerary for %d people for a trip to %s.

TRAVEL DATES: %s
%s
The city expert's context is a JSON object with "items" and "total_estimated_cost_usd".

Your report must:
1. %s
2. Show ONLY the final converted amount for each item, formatted like "30,195 %s". Never show the USD cost or the calculation.
3. Render every item that has a link as a clickable markdown link on its name.
4. Mention the cost of every activity and meal the user has to pay for.
5. Synthesize the items into a cohesive daily plan.
6. %s
7. Incorporate the budget verification verdict from the context.
8. Include the weather insights if available, or seasonal recommendations when dates are flexible.
9. End with a budget summary of the total cost of the trip in %s.
10. Format the whole output as an exciting markdown report. Display all costs ONLY in %s.`,
		p.NumPeople, p.Location, p.TravelDates, flex, rateStep, b.Settlement, rateRule, b.Settlement, b.Settlement)
}

func currencyTools(rates tools.Rates) []agent.Tool {
	if rates == nil {
		return nil
	}
	return []agent.Tool{CurrencyTool(rates)}
}

func searchLimit(caps Capabilities) int {
	if caps.SearchLimit > 0 {
		return caps.SearchLimit
	}
	return DefaultSearchLimit
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
