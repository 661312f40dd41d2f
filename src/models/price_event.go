package models

// MPriceEvent is a normalized tick produced from a vendor trade or quote.
type MPriceEvent struct {
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	Timestamp     int64    `json:"timestamp"` // epoch millis
	Volume        float64  `json:"volume"`
	Change        *float64 `json:"change,omitempty"`
	PercentChange *float64 `json:"percentChange,omitempty"`
}

// -----------------------------------------------------------------------------
// Stream frames (SSE payloads)
// -----------------------------------------------------------------------------

const (
	FrameConnected = "connected"
	FrameTrade     = "trade"
	FrameError     = "error"
)

type MStreamFrame struct {
	Type    string       `json:"type"`
	Symbols []string     `json:"symbols,omitempty"`
	Data    *MPriceEvent `json:"data,omitempty"`
	Message string       `json:"message,omitempty"`
	Code    string       `json:"code,omitempty"`
}

func ConnectedFrame(symbols []string) MStreamFrame {
	return MStreamFrame{Type: FrameConnected, Symbols: symbols}
}

func TradeFrame(evt MPriceEvent) MStreamFrame {
	return MStreamFrame{Type: FrameTrade, Data: &evt}
}

func ErrorFrame(message, code string) MStreamFrame {
	return MStreamFrame{Type: FrameError, Message: message, Code: code}
}
