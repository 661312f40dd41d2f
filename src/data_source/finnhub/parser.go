package finnhub

import (
	"encoding/json"
	"fmt"
	"strings"

	"stock-stream/src/helpers"
	"stock-stream/src/models"
)

// Vendor message types.
const (
	MessageTrade = "trade"
	MessagePing  = "ping"
	MessageError = "error"
)

// secondsCutoff separates epoch seconds from epoch millis (year 2001 in ms).
const secondsCutoff = 1_000_000_000_000

// ParsedMessage is the normalized view of one inbound vendor message.
type ParsedMessage struct {
	Type     string
	Events   []models.MPriceEvent
	Dropped  int
	ErrorMsg string
}

// -----------------------------------------------------------------------------

// ParseMessage decodes a vendor message. Trade entries without a symbol or a
// price are dropped and counted; non-trade messages carry no events. Only a
// payload that is not valid JSON yields an error.
func ParseMessage(raw []byte) (*ParsedMessage, error) {
	var msg models.MFinnhubTradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, helpers.NewParseError("malformed upstream message", err)
	}

	parsed := &ParsedMessage{Type: msg.Type}

	switch msg.Type {
	case MessageTrade:
		parsed.Events = make([]models.MPriceEvent, 0, len(msg.Data))
		for _, t := range msg.Data {
			evt, ok := normalizeTrade(t)
			if !ok {
				parsed.Dropped++
				continue
			}
			parsed.Events = append(parsed.Events, evt)
		}
	case MessageError:
		parsed.ErrorMsg = msg.Msg
	}

	return parsed, nil
}

// -----------------------------------------------------------------------------

func normalizeTrade(t models.MFinnhubTrade) (models.MPriceEvent, bool) {
	if t.Symbol == nil || strings.TrimSpace(*t.Symbol) == "" || t.Price == nil {
		return models.MPriceEvent{}, false
	}
	return models.MPriceEvent{
		Symbol:    *t.Symbol,
		Price:     *t.Price,
		Timestamp: toMillis(t.Timestamp),
		Volume:    t.Volume,
	}, true
}

// toMillis accepts epoch seconds or epoch millis.
func toMillis(ts int64) int64 {
	if ts > 0 && ts < secondsCutoff {
		return ts * 1000
	}
	return ts
}

// -----------------------------------------------------------------------------

// ClassifyVendorError maps an upstream "error" message to a terminal error,
// or nil when the message is informational.
func ClassifyVendorError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "limit") || strings.Contains(lower, "too many"):
		return helpers.NewTerminalError("upstream rate limit", true, fmt.Errorf("%s", msg))
	case strings.Contains(lower, "token") || strings.Contains(lower, "auth") || strings.Contains(lower, "api key"):
		return helpers.NewTerminalError("upstream rejected credentials", false, fmt.Errorf("%s", msg))
	default:
		return nil
	}
}

// -----------------------------------------------------------------------------

// SubscribeMessage returns the wire form of a subscribe request.
func SubscribeMessage(symbol string) []byte {
	data, _ := json.Marshal(models.MFinnhubSubscribe{Type: "subscribe", Symbol: symbol})
	return data
}
