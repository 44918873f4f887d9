package pricing

type BSMResult struct {
	Price             float64 `json:"price"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	Delta             float64 `json:"delta"`
	Gamma             float64 `json:"gamma"`
	Theta             float64 `json:"theta"`
	Vega              float64 `json:"vega"`
	Rho               float64 `json:"rho"`
	ShadowUpGamma     float64 `json:"shadow_up_gamma"`
	ShadowDownGamma   float64 `json:"shadow_down_gamma"`
	SkewGamma         float64 `json:"skew_gamma"`
}
