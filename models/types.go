package models

import (
	"fmt"
	"math"
	"strings"
)

type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	}
	return "", fmt.Errorf("models.ParseOptionType: unknown option type %q", s)
}

func (o OptionType) IsCall() bool {
	return o == Call
}

// MarketDataRow is one observed quote on an expiration slice. MarketIV is a
// decimal (0.2 for 20%) and Expiration is a unix timestamp identifying the slice.
type MarketDataRow struct {
	OptionType      OptionType `json:"option_type"`
	StrikePrice     float64    `json:"strike_price"`
	UnderlyingPrice float64    `json:"underlying_price"`
	YearsToExp      float64    `json:"years_to_exp"`
	MarketIV        float64    `json:"market_iv"`
	Vega            float64    `json:"vega"`
	Expiration      int64      `json:"expiration"`
}

// LogMoneyness returns ln(K/S).
func (r MarketDataRow) LogMoneyness() float64 {
	return math.Log(r.StrikePrice / r.UnderlyingPrice)
}

func (r MarketDataRow) MarketTotalVariance() float64 {
	return r.MarketIV * r.MarketIV * r.YearsToExp
}

// FixedParameters are market-wide constants applied during pricing.
type FixedParameters struct {
	R float64 `json:"r" yaml:"r"`
	Q float64 `json:"q" yaml:"q"`
}

func DefaultFixedParameters() FixedParameters {
	return FixedParameters{R: 0.02, Q: 0}
}

type PricingResult struct {
	OptionType  OptionType `json:"option_type"`
	Strike      float64    `json:"strike"`
	Underlying  float64    `json:"underlying"`
	YearsToExp  float64    `json:"years_to_exp"`
	ModelPrice  float64    `json:"model_price"`
	ModelIV     float64    `json:"model_iv"`
	MarketIV    float64    `json:"market_iv"`
	MarketPrice float64    `json:"market_price"`
	IVError     float64    `json:"iv_error"`
	PriceError  float64    `json:"price_error"`
	Valid       bool       `json:"valid"`
}
