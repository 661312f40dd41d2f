package utils

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// suffix -> MIC (ISO 10383) as used by scmhub/calendar
var suffixMIC = map[string]string{
	".L":  "xlon",
	".PA": "xpar",
	".DE": "xfra",
	".AS": "xams",
	".MI": "xmil",
	".MC": "xmad",
	".SW": "xswx",
	".TO": "xtse",
	".T":  "xtks",
	".HK": "xhkg",
	".AX": "xasx",
}

const defaultMIC = "xnys"

// TradingCalendar answers "is this market open" for one exchange.
// A calendar with AlwaysOpen set models 24/7 venues (crypto, forex).
type TradingCalendar struct {
	MIC        string
	Calendar   *calendar.Calendar
	AlwaysOpen bool
	Fallback   bool
	Timezone   *time.Location
}

// -----------------------------------------------------------------------------

// MICForSymbol maps a Finnhub symbol to its exchange. Symbols with a venue
// prefix ("BINANCE:BTCUSDT", "OANDA:EUR_USD") trade around the clock and map
// to the empty MIC.
func MICForSymbol(symbol string) string {
	if strings.Contains(symbol, ":") {
		return ""
	}
	if i := strings.LastIndex(symbol, "."); i > 0 {
		if mic, ok := suffixMIC[symbol[i:]]; ok {
			return mic
		}
	}
	return defaultMIC
}

// -----------------------------------------------------------------------------

func GetCalendar(symbol string) *TradingCalendar {
	mic := MICForSymbol(symbol)
	if mic == "" {
		return &TradingCalendar{AlwaysOpen: true, Timezone: time.UTC}
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		mic = defaultMIC
		cal = calendar.GetCalendar(mic)
	}
	if cal == nil {
		// Mon-Fri 09:30-16:00 New York
		ny, err := time.LoadLocation("America/New_York")
		if err != nil {
			ny = time.UTC
		}
		return &TradingCalendar{MIC: mic, Fallback: true, Timezone: ny}
	}

	return &TradingCalendar{MIC: mic, Calendar: cal, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsOpen(t time.Time) bool {
	if tc.AlwaysOpen {
		return true
	}
	if tc.Timezone != nil {
		t = t.In(tc.Timezone)
	}
	if !tc.Fallback {
		return tc.Calendar.IsOpen(t)
	}

	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
