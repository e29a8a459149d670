package models

// Quote is a symbol with its current price
type Quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// ExchangeRow is a row of the external stock exchange table
type ExchangeRow struct {
	Symbol   string `json:"symbol" db:"symbol"`
	Exchange string `json:"exchange" db:"exchange"`
}

// TopGainersResponse is the body of a top movers response
type TopGainersResponse struct {
	TopGainers []Quote `json:"top_gainers"`
}
