// Package archive periodically moves aged paper fills from MongoDB to
// local gzipped NDJSON files, adapted from the feed simulator's trade
// archiver onto the gateway's paper fill ledger.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Archiver periodically moves old paper fills from MongoDB to local gzipped
// NDJSON files, deleting the oldest archives once total size exceeds
// maxBytes.
type Archiver struct {
	db       *mongo.Database
	dir      string
	maxBytes int64
	interval time.Duration
	maxAge   time.Duration
}

// New creates a new Archiver.
func New(db *mongo.Database, dir string, maxGB, intervalHours, afterHours int) *Archiver {
	return &Archiver{
		db:       db,
		dir:      dir,
		maxBytes: int64(maxGB) * 1 << 30,
		interval: time.Duration(intervalHours) * time.Hour,
		maxAge:   time.Duration(afterHours) * time.Hour,
	}
}

// Run starts the periodic archive loop. Blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	log.Printf("fill archiver: dir=%s max=%dGB interval=%v age=%v",
		a.dir, a.maxBytes>>30, a.interval, a.maxAge)

	a.cycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

func (a *Archiver) cycle(ctx context.Context) {
	cursor, err := a.loadCursor(ctx)
	if err != nil {
		log.Printf("fill archiver: load cursor: %v", err)
		return
	}

	cutoff := time.Now().Add(-a.maxAge)
	if !cursor.Before(cutoff) {
		return
	}

	fills, err := a.queryFills(ctx, cursor, cutoff)
	if err != nil {
		log.Printf("fill archiver: query: %v", err)
		return
	}
	if len(fills) == 0 {
		a.saveCursor(ctx, cutoff)
		return
	}

	batches := groupByDay(fills)

	for day, batch := range batches {
		if err := a.writeBatch(day, batch); err != nil {
			log.Printf("fill archiver: write %s: %v", day, err)
			return
		}

		if err := a.deleteBatch(ctx, batch); err != nil {
			log.Printf("fill archiver: delete %s: %v", day, err)
			return
		}

		log.Printf("fill archiver: archived %d fills for %s", len(batch), day)
	}

	a.saveCursor(ctx, cutoff)
	a.rotate()
}

// fillDoc mirrors the paper_trades document.
type fillDoc struct {
	OrderID    string    `bson:"order_id"    json:"order_id"`
	Symbol     string    `bson:"symbol"      json:"symbol"`
	Qty        int       `bson:"qty"         json:"qty"`
	Side       string    `bson:"side"        json:"side"`
	Type       string    `bson:"type"        json:"type"`
	FillPrice  float64   `bson:"fill_price"  json:"fill_price"`
	Notional   float64   `bson:"notional"    json:"notional"`
	Status     string    `bson:"status"      json:"status"`
	ExecutedAt time.Time `bson:"executed_at" json:"executed_at"`
}

func (a *Archiver) loadCursor(ctx context.Context) (time.Time, error) {
	var doc struct {
		ValueTime time.Time `bson:"value_time"`
	}
	err := a.db.Collection("archive_state").FindOne(ctx, bson.M{"key": "fill_archive_cursor"}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return doc.ValueTime, nil
}

func (a *Archiver) saveCursor(ctx context.Context, t time.Time) {
	_, err := a.db.Collection("archive_state").UpdateOne(ctx,
		bson.M{"key": "fill_archive_cursor"},
		bson.M{"$set": bson.M{
			"key":        "fill_archive_cursor",
			"value_time": t,
			"updated_at": time.Now(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		log.Printf("fill archiver: save cursor: %v", err)
	}
}

func (a *Archiver) queryFills(ctx context.Context, from, to time.Time) ([]fillDoc, error) {
	filter := bson.M{
		"executed_at": bson.M{"$gte": from, "$lt": to},
	}
	opts := options.Find().SetSort(bson.D{{Key: "executed_at", Value: 1}})

	cur, err := a.db.Collection("paper_trades").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find fills: %w", err)
	}
	defer cur.Close(ctx)

	var fills []fillDoc
	if err := cur.All(ctx, &fills); err != nil {
		return nil, fmt.Errorf("decode fills: %w", err)
	}
	return fills, nil
}

func groupByDay(fills []fillDoc) map[string][]fillDoc {
	batches := make(map[string][]fillDoc)
	for _, f := range fills {
		day := f.ExecutedAt.UTC().Format("2006/01/02")
		batches[day] = append(batches[day], f)
	}
	return batches
}

// writeBatch writes fills as gzipped NDJSON to dir/fills/YYYY/MM/DD.jsonl.gz.
func (a *Archiver) writeBatch(day string, fills []fillDoc) error {
	path := filepath.Join(a.dir, "fills", day+".jsonl.gz")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, f := range fills {
		if err := enc.Encode(f); err != nil {
			gz.Close()
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (a *Archiver) deleteBatch(ctx context.Context, fills []fillDoc) error {
	ids := make([]string, len(fills))
	for i, f := range fills {
		ids[i] = f.OrderID
	}

	_, err := a.db.Collection("paper_trades").DeleteMany(ctx, bson.M{
		"order_id": bson.M{"$in": ids},
	})
	if err != nil {
		return fmt.Errorf("delete archived fills: %w", err)
	}
	return nil
}

// rotate deletes the oldest archive files until total size is under maxBytes.
func (a *Archiver) rotate() {
	root := filepath.Join(a.dir, "fills")

	type entry struct {
		path string
		size int64
	}

	var files []entry
	var total int64

	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		files = append(files, entry{path: path, size: info.Size()})
		total += info.Size()
		return nil
	})

	if total <= a.maxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].path < files[j].path
	})

	for _, f := range files {
		if total <= a.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			log.Printf("fill archiver: remove %s: %v", f.path, err)
			continue
		}
		total -= f.size
		log.Printf("fill archiver: rotated out %s (%d bytes)", f.path, f.size)
	}
}
