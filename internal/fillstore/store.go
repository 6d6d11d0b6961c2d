// Package fillstore persists simulated order executions, adapted from the
// original implementation's paper_engine (a two-table SQLite append log)
// onto the gateway's shared Mongo store. Orders and their fills are
// immutable once written; order IDs increment strictly.
package fillstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/tradegate/internal/mongostore"
	"github.com/ndrandal/tradegate/internal/schema"
)

// Fill is the persisted record of one simulated execution.
type Fill struct {
	OrderID     string          `json:"order_id" bson:"order_id"`
	Symbol      string          `json:"symbol" bson:"symbol"`
	Qty         int             `json:"qty" bson:"qty"`
	Side        schema.OrderSide `json:"side" bson:"side"`
	Type        schema.OrderType `json:"type" bson:"type"`
	FillPrice   float64         `json:"fill_price" bson:"fill_price"`
	Notional    float64         `json:"notional" bson:"notional"`
	Status      string          `json:"status" bson:"status"`
	ExecutedAt  time.Time       `json:"executed_at" bson:"executed_at"`
}

// Result is returned from ExecuteOrder.
type Result struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
}

// OrderFilter controls which orders a query returns.
type OrderFilter struct {
	Symbol string
	Limit  int
	Offset int
	From   *time.Time
	To     *time.Time
}

// Stats holds aggregate paper-trading statistics.
type Stats struct {
	TotalOrders   int64   `json:"total_orders"`
	TotalNotional float64 `json:"total_notional"`
}

// Store is a Mongo-backed append-only paper fill ledger.
type Store struct {
	orders *mongo.Collection
	trades *mongo.Collection

	mu      sync.Mutex
	counter int64
}

// New constructs a Store over the given Mongo-backed store's database.
func New(ctx context.Context, store *mongostore.Store) (*Store, error) {
	s := &Store{
		orders: store.DB().Collection("paper_orders"),
		trades: store.DB().Collection("paper_trades"),
	}
	count, err := s.orders.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("fillstore: count existing orders: %w", err)
	}
	s.counter = count
	return s, nil
}

// ExecuteOrder simulates an immediate fill at the order's limit price (zero
// for a market order with no limit price given), writes the order and its
// fill, and returns strictly increasing order IDs.
func (s *Store) ExecuteOrder(ctx context.Context, order schema.Order) (Result, error) {
	s.mu.Lock()
	s.counter++
	seq := s.counter
	s.mu.Unlock()

	orderID := order.ID
	if orderID == "" {
		orderID = uuid.New().String()
	}

	var fillPrice float64
	if order.LimitPrice != nil {
		fillPrice = *order.LimitPrice
	}

	notional := decimal.NewFromFloat(fillPrice).Mul(decimal.NewFromInt(int64(order.Qty)))

	now := time.Now()
	fill := Fill{
		OrderID:    orderID,
		Symbol:     order.Symbol,
		Qty:        order.Qty,
		Side:       order.Side,
		Type:       order.Type,
		FillPrice:  fillPrice,
		Notional:   notionalFloat(notional),
		Status:     "success",
		ExecutedAt: now,
	}

	orderDoc := bson.M{
		"order_id":    orderID,
		"seq":         seq,
		"symbol":      order.Symbol,
		"qty":         order.Qty,
		"side":        order.Side,
		"type":        order.Type,
		"limit_price": order.LimitPrice,
		"created_at":  now,
	}
	if _, err := s.orders.InsertOne(ctx, orderDoc); err != nil {
		return Result{}, fmt.Errorf("fillstore: insert order: %w", err)
	}
	if _, err := s.trades.InsertOne(ctx, fill); err != nil {
		return Result{}, fmt.Errorf("fillstore: insert fill: %w", err)
	}

	return Result{Status: "success", OrderID: orderID}, nil
}

func notionalFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// QueryOrders returns recent fills, most recent first. Supplements the
// distilled protocol with a read-side view over the paper fill ledger.
func (s *Store) QueryOrders(ctx context.Context, f OrderFilter) ([]Fill, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}

	filter := bson.M{}
	if f.Symbol != "" {
		filter["symbol"] = f.Symbol
	}
	if f.From != nil || f.To != nil {
		timeFilter := bson.M{}
		if f.From != nil {
			timeFilter["$gte"] = *f.From
		}
		if f.To != nil {
			timeFilter["$lte"] = *f.To
		}
		filter["executed_at"] = timeFilter
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "executed_at", Value: -1}}).
		SetLimit(int64(f.Limit)).
		SetSkip(int64(f.Offset))

	cursor, err := s.trades.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("fillstore: query orders: %w", err)
	}
	defer cursor.Close(ctx)

	fills := []Fill{}
	if err := cursor.All(ctx, &fills); err != nil {
		return nil, fmt.Errorf("fillstore: decode orders: %w", err)
	}
	return fills, nil
}

// QueryStats returns aggregate order count and notional value traded.
func (s *Store) QueryStats(ctx context.Context) (Stats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total_orders", Value: bson.M{"$sum": 1}},
			{Key: "total_notional", Value: bson.M{"$sum": "$notional"}},
		}}},
	}

	cursor, err := s.trades.Aggregate(ctx, pipeline)
	if err != nil {
		return Stats{}, fmt.Errorf("fillstore: query stats: %w", err)
	}
	defer cursor.Close(ctx)

	var results []Stats
	if err := cursor.All(ctx, &results); err != nil {
		return Stats{}, fmt.Errorf("fillstore: decode stats: %w", err)
	}
	if len(results) == 0 {
		return Stats{}, nil
	}
	return results[0], nil
}
