package models

// HistoryLength is how many prices per symbol are kept, live and archived.
const HistoryLength = 60

// StockUpdate is one journaled simulator tick for a stock symbol
type StockUpdate struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix micro
	SeqID     int64   `json:"seq_id"`    // monotonic counter per symbol
}

// Redis layout written by the archiver.
func LatestKey(symbol string) string    { return "stock:" + symbol }
func HistoryKey(symbol string) string   { return "history:" + symbol }
func PriceChannel(symbol string) string { return "prices." + symbol }
