package tradier

type Quote struct {
	Symbol      string  `json:"symbol"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Last        float64 `json:"last"`
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
	Close       float64 `json:"close"`
	Prevclose   float64 `json:"prevclose"`
	TradeDate   int64   `json:"trade_date"`
}

// Mid is the bid/ask midpoint, falling back to the last trade and then the
// previous close when the book is empty.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask >= q.Bid {
		return (q.Bid + q.Ask) / 2
	}
	if q.Last > 0 {
		return q.Last
	}
	return q.Prevclose
}

type quoteResponse struct {
	Quotes struct {
		Quote Quote `json:"quote"`
	} `json:"quotes"`
}

type HistoryDay struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

type QuoteHistory struct {
	History struct {
		Day []HistoryDay `json:"day"`
	} `json:"history"`
}

type OptionExpirations struct {
	Expirations struct {
		Expiration []struct {
			Date           string `json:"date"`
			ContractSize   int    `json:"contract_size"`
			ExpirationType string `json:"expiration_type"`
			Strikes        struct {
				Strike []float64 `json:"strike"`
			} `json:"strikes"`
		} `json:"expiration"`
	} `json:"expirations"`
}

// Dates lists the expiration dates in the order Tradier returned them.
func (e OptionExpirations) Dates() []string {
	dates := make([]string, 0, len(e.Expirations.Expiration))
	for _, exp := range e.Expirations.Expiration {
		dates = append(dates, exp.Date)
	}
	return dates
}

type Greeks struct {
	Delta     float64 `json:"delta"`
	Gamma     float64 `json:"gamma"`
	Theta     float64 `json:"theta"`
	Vega      float64 `json:"vega"`
	Rho       float64 `json:"rho"`
	Phi       float64 `json:"phi"`
	BidIv     float64 `json:"bid_iv"`
	MidIv     float64 `json:"mid_iv"`
	AskIv     float64 `json:"ask_iv"`
	SmvVol    float64 `json:"smv_vol"`
	UpdatedAt string  `json:"updated_at"`
}

type Option struct {
	Symbol         string  `json:"symbol"`
	Description    string  `json:"description"`
	Type           string  `json:"type"`
	Last           float64 `json:"last"`
	Volume         int     `json:"volume"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	Underlying     string  `json:"underlying"`
	Strike         float64 `json:"strike"`
	OpenInterest   int     `json:"open_interest"`
	ContractSize   int     `json:"contract_size"`
	ExpirationDate string  `json:"expiration_date"`
	ExpirationType string  `json:"expiration_type"`
	OptionType     string  `json:"option_type"`
	RootSymbol     string  `json:"root_symbol"`
	Greeks         *Greeks `json:"greeks"`
}

// Mid is the bid/ask midpoint or zero when either side is missing.
func (o Option) Mid() float64 {
	if o.Bid <= 0 || o.Ask < o.Bid {
		return 0
	}
	return (o.Bid + o.Ask) / 2
}

type OptionChain struct {
	Options        OptionList `json:"options"`
	ExpirationDate string     `json:"expiration_date"`
}

type OptionList struct {
	Option []Option `json:"option"`
}
