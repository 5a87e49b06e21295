package protocol

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
)

// Close reasons sent with a policy-violation close frame when a handshake is rejected.
const (
	ReasonTokenRequired    = "token required"
	ReasonInvalidToken     = "invalid token"
	ReasonStoreUnavailable = "store unavailable"
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type RequestPayload struct {
	Symbols []string `json:"symbols"`
}

type WSResponse struct {
	Type    string      `json:"type"`             // "ack", "error"
	ID      string      `json:"id,omitempty"`     // Matches request ID
	Status  string      `json:"status,omitempty"` // "success", "error"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PriceUpdate is the live message pushed to subscribers on every tick.
type PriceUpdate struct {
	Ticker string `json:"ticker"`
	Price  string `json:"price"`
}

// FormatPrice renders a price as a fixed two-decimal string.
func FormatPrice(price float64) string {
	return decimal.NewFromFloat(price).StringFixed(2)
}

// EncodePriceUpdate builds the wire payload for one symbol's tick.
func EncodePriceUpdate(symbol string, price float64) ([]byte, error) {
	return json.Marshal(PriceUpdate{Ticker: symbol, Price: FormatPrice(price)})
}
