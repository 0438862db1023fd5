package tools

import (
	"fmt"
	"strings"
)

var weatherCodes = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Fog depositing rime",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	56: "Light freezing drizzle",
	57: "Dense freezing drizzle",
	61: "Slight rain",
	63: "Moderate rain",
	65: "Heavy rain",
	66: "Light freezing rain",
	67: "Heavy freezing rain",
	71: "Slight snow",
	73: "Moderate snow",
	75: "Heavy snow",
	77: "Snow grains",
	80: "Slight rain showers",
	81: "Moderate rain showers",
	82: "Violent rain showers",
	85: "Slight snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with slight hail",
	99: "Thunderstorm with heavy hail",
}

// WeatherDescription returns the text for a WMO weather code.
func WeatherDescription(code int) string {
	if d, ok := weatherCodes[code]; ok {
		return d
	}
	return fmt.Sprintf("Unknown (%d)", code)
}

// Adverse reports whether the code denotes precipitation or storms: every
// known code from 51 (light drizzle) upward.
func Adverse(code int) bool {
	_, known := weatherCodes[code]
	return known && code >= 51
}

// WeatherReport renders a forecast as text, one line per day, followed by
// a note listing the days with adverse weather.
func WeatherReport(place string, days []DailyForecast) string {
	if len(days) == 0 {
		return fmt.Sprintf("No forecast data is available for %s.", place)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Weather forecast for %s:\n", place)
	var bad []string
	for _, d := range days {
		date := d.Date.Format("2006-01-02")
		desc := WeatherDescription(d.Code)
		fmt.Fprintf(&b, "- %s: %s, %.1f°C to %.1f°C\n", date, desc, d.MinTemp, d.MaxTemp)
		if Adverse(d.Code) {
			bad = append(bad, date+" ("+strings.ToLower(desc)+")")
		}
	}
	if len(bad) > 0 {
		fmt.Fprintf(&b, "Note: adverse weather expected on %s. Plan indoor alternatives for those days.", strings.Join(bad, ", "))
	} else {
		b.WriteString("No adverse weather is expected during the trip.")
	}
	return b.String()
}
