package fillstore

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// RunRetention periodically deletes paper fills older than retentionDays.
// Blocks until ctx is cancelled. Pass retentionDays <= 0 to disable.
func (s *Store) RunRetention(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		log.Println("fill retention disabled (keep forever)")
		return
	}

	interval := 1 * time.Hour
	log.Printf("fill retention: pruning fills older than %d days every %v", retentionDays, interval)

	s.prune(ctx, retentionDays)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(ctx, retentionDays)
		}
	}
}

func (s *Store) prune(ctx context.Context, retentionDays int) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result, err := s.trades.DeleteMany(ctx, bson.M{
		"executed_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		log.Printf("fill retention prune error: %v", err)
		return
	}

	if result.DeletedCount > 0 {
		log.Printf("fill retention: pruned %d fills older than %s", result.DeletedCount, cutoff.Format(time.DateOnly))
	}
}
