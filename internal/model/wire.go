package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stream message type discriminators.
const (
	MsgMultiplierUpdate = "multiplier_update"
	MsgTradePlaced      = "trade_placed"
	MsgTradeResolved    = "trade_resolved"
	MsgColumnExpired    = "column_expired"
	MsgPriceTick        = "price_tick"
)

// StreamMessage is the envelope for every websocket push. Type selects
// which of the optional fields are populated.
type StreamMessage struct {
	Type      string    `json:"type"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`

	// multiplier_update
	Matrix [][]float64 `json:"matrix,omitempty"`
	Config *GridConfig `json:"config,omitempty"`
	Price  float64     `json:"price,omitempty"` // also price_tick

	// trade_placed / trade_resolved
	Position *Position       `json:"position,omitempty"`
	Won      bool            `json:"won,omitempty"`
	Payout   decimal.Decimal `json:"payout,omitempty"`
	PnL      decimal.Decimal `json:"pnl,omitempty"`

	// column_expired
	Col     int            `json:"col,omitempty"`
	Results []ExpiryResult `json:"results,omitempty"`
}

// ExpiryResult is one position's outcome inside a column_expired batch.
type ExpiryResult struct {
	PositionID string          `json:"position_id"`
	Won        bool            `json:"won"`
	Payout     decimal.Decimal `json:"payout"`
	PnL        decimal.Decimal `json:"pnl"`
}

// StateResponse is the payload of the initial state fetch.
type StateResponse struct {
	Config       GridConfig    `json:"config"`
	Matrix       [][]float64   `json:"matrix"`
	Positions    []Position    `json:"positions"`
	PriceHistory []PriceSample `json:"price_history"`
	CurrentPrice float64       `json:"current_price"`
}

// PlaceTradeRequest is the JSON body for trade placement. Price bounds,
// the time window, and the multiplier are the client's locally-known
// values; the server re-validates and its response is authoritative.
type PlaceTradeRequest struct {
	Symbol      string          `json:"symbol"`
	PortfolioID string          `json:"portfolio_id"`
	RowIndex    int             `json:"row_index"`
	ColIndex    int             `json:"col_index"`
	Amount      decimal.Decimal `json:"amount"`
	Leverage    int             `json:"leverage"`
	Multiplier  float64         `json:"multiplier"`
	PriceLow    float64         `json:"price_low"`
	PriceHigh   float64         `json:"price_high"`
	TimeStart   time.Time       `json:"time_start"`
	TimeEnd     time.Time       `json:"time_end"`
}
