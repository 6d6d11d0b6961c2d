// Package schema holds the wire-level data types shared by every component
// of the gateway: providers, the universe resolver, the session engine and
// the paper fill store all exchange these types rather than package-private
// structs of their own.
package schema

import "time"

// Tick is a normalized market event. Immutable once produced.
type Tick struct {
	Symbol    string    `json:"symbol" bson:"symbol"`
	Price     float64   `json:"price" bson:"price"`
	Volume    float64   `json:"volume" bson:"volume"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Provider  string    `json:"provider" bson:"provider"`
}

// OrderSide is the direction of a client order.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType selects market vs. limit semantics.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// Order is a client's trading intent.
type Order struct {
	ID          string    `json:"id,omitempty"`
	Symbol      string    `json:"symbol"`
	Qty         int       `json:"qty"`
	Side        OrderSide `json:"side"`
	Type        OrderType `json:"type"`
	LimitPrice  *float64  `json:"limit_price,omitempty"`
}

// FilterOp is a comparison operator usable in a FilterCondition.
type FilterOp string

const (
	OpEQ     FilterOp = "eq"
	OpNE     FilterOp = "ne"
	OpGT     FilterOp = "gt"
	OpGTE    FilterOp = "gte"
	OpLT     FilterOp = "lt"
	OpLTE    FilterOp = "lte"
	OpIN     FilterOp = "in"
	OpNotIN  FilterOp = "not_in"
	OpBetween FilterOp = "between"
)

// FilterCondition is one ANDed predicate over a snapshot field.
type FilterCondition struct {
	Field string      `json:"field"`
	Op    FilterOp    `json:"op"`
	Value interface{} `json:"value"`
}

// SortDirection orders a SortSpec.
type SortDirection string

const (
	Asc  SortDirection = "asc"
	Desc SortDirection = "desc"
)

// SortSpec optionally ranks the surviving candidate set.
type SortSpec struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// CandidateSpec describes where the initial candidate list comes from.
// Exactly one of Watchlist/Index/InstrumentMaster is populated, selected by
// Type.
type CandidateSpec struct {
	Type string `json:"type"`

	// type == "watchlist"
	Symbols []string `json:"symbols,omitempty"`

	// type == "index"
	Index string `json:"index,omitempty"`

	// type == "instrument_master"
	Exchange string `json:"exchange,omitempty"`
	Segment  string `json:"segment,omitempty"`
}

// FilterSpec is the declarative universe selector sent by a client.
type FilterSpec struct {
	Candidates     CandidateSpec     `json:"candidates"`
	Conditions     []FilterCondition `json:"conditions,omitempty"`
	Sort           []SortSpec        `json:"sort,omitempty"`
	MaxSymbols     int               `json:"max_symbols"`
	RefreshSeconds int               `json:"refresh_seconds"`
	GraceSeconds   int               `json:"grace_seconds,omitempty"`
}

// UniverseUpdate is the incremental delta emitted to a session as its
// subscription set changes.
type UniverseUpdate struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Universe  []string `json:"universe"`
	Reason    string   `json:"reason"`
	Timestamp float64  `json:"timestamp"`
}

// InstrumentRow is one row of the instrument master CSV.
type InstrumentRow struct {
	Symbol       string
	Exchange     string
	Series       string
	ISIN         string
	NSEScripCode string
	BSECode      string
}

// SnapshotRow is one symbol's worth of quote fields, as returned by
// Provider.Snapshot, used only to evaluate filter conditions.
type SnapshotRow map[string]interface{}
