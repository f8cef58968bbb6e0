package upstream

// ContractRef is one row of the options contract reference listing.
type ContractRef struct {
	Ticker           string  `json:"ticker"`
	UnderlyingTicker string  `json:"underlying_ticker"`
	ContractType     string  `json:"contract_type"`
	ExpirationDate   string  `json:"expiration_date"`
	StrikePrice      float64 `json:"strike_price"`
}

type ContractsPage struct {
	Results []ContractRef `json:"results"`
	NextURL string        `json:"next_url"`
}

// TradePrint is a single trade print. SipTimestamp is in nanoseconds.
type TradePrint struct {
	Price        float64 `json:"price"`
	Size         int64   `json:"size"`
	SipTimestamp int64   `json:"sip_timestamp"`
	Exchange     int     `json:"exchange"`
	Conditions   []int   `json:"conditions"`
}

type TradesPage struct {
	Results []TradePrint `json:"results"`
	NextURL string       `json:"next_url"`
}

type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

type SnapshotDetails struct {
	Ticker         string  `json:"ticker"`
	ContractType   string  `json:"contract_type"`
	ExpirationDate string  `json:"expiration_date"`
	StrikePrice    float64 `json:"strike_price"`
}

type SnapshotQuote struct {
	Bid      float64 `json:"bid"`
	Ask      float64 `json:"ask"`
	Midpoint float64 `json:"midpoint"`
}

type SnapshotTrade struct {
	Price float64 `json:"price"`
}

type UnderlyingAsset struct {
	Ticker string  `json:"ticker"`
	Price  float64 `json:"price"`
}

// SnapshotContract is a per-contract snapshot. Greeks and implied
// volatility are optional; the provider omits them for illiquid contracts.
type SnapshotContract struct {
	Details           SnapshotDetails `json:"details"`
	Greeks            *Greeks         `json:"greeks,omitempty"`
	ImpliedVolatility *float64        `json:"implied_volatility,omitempty"`
	OpenInterest      float64         `json:"open_interest"`
	LastQuote         SnapshotQuote   `json:"last_quote"`
	LastTrade         SnapshotTrade   `json:"last_trade"`
	UnderlyingAsset   UnderlyingAsset `json:"underlying_asset"`
}

type SnapshotPage struct {
	Results []SnapshotContract `json:"results"`
	NextURL string             `json:"next_url"`
}

// Bar is an OHLCV aggregate. Timestamp is the bar start in Unix milliseconds.
type Bar struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

type barsResponse struct {
	Results []Bar `json:"results"`
}

type lastTradeResponse struct {
	Results struct {
		Price float64 `json:"p"`
	} `json:"results"`
}
