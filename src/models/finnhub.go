package models

// -----------------------------------------------------------------------------
// Finnhub wire formats
// -----------------------------------------------------------------------------

type MFinnhubSubscribe struct {
	Type   string `json:"type"` // "subscribe" | "unsubscribe"
	Symbol string `json:"symbol"`
}

type MFinnhubTradeMessage struct {
	Type string          `json:"type"`
	Data []MFinnhubTrade `json:"data"`
	Msg  string          `json:"msg,omitempty"` // set on "error" messages
}

// MFinnhubTrade uses pointers so missing fields can be told apart from zero values.
type MFinnhubTrade struct {
	Symbol    *string  `json:"s"`
	Price     *float64 `json:"p"`
	Timestamp int64    `json:"t"`
	Volume    float64  `json:"v"`
}

// MFinnhubQuote is the REST /quote response.
type MFinnhubQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	PercentChange float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"` // epoch seconds
}
