package market

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownSymbol = errors.New("unknown symbol")

// Symbol is a ticker from the fixed supported set.
type Symbol string

const (
	GOOG Symbol = "GOOG"
	TSLA Symbol = "TSLA"
	AMZN Symbol = "AMZN"
	META Symbol = "META"
	NVDA Symbol = "NVDA"
)

var supported = []Symbol{GOOG, TSLA, AMZN, META, NVDA}

// Supported returns the fixed symbol set in display order.
func Supported() []Symbol {
	out := make([]Symbol, len(supported))
	copy(out, supported)
	return out
}

func (s Symbol) Valid() bool {
	for _, sym := range supported {
		if s == sym {
			return true
		}
	}
	return false
}

func (s Symbol) String() string { return string(s) }

// ParseSymbol normalizes raw client input and rejects anything outside the set.
func ParseSymbol(raw string) (Symbol, error) {
	s := Symbol(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSymbol, raw)
	}
	return s, nil
}
