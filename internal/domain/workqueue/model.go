package workqueue

import (
	"context"
	"errors"
	"time"

	"github.com/sharplines/odds-fabric/internal/domain/job"
)

var ErrEmpty = errors.New("no items available")

// Item is one unit of fan-out work. It is self-describing: a worker can tell
// from the item alone what to do and, via SnapshotAt, whether a fresher run
// has already superseded it.
type Item struct {
	ID           string    `json:"id"`
	Sport        string    `json:"sport"`
	Model        string    `json:"model"`
	BetType      string    `json:"bet_type"`
	AnalysisType string    `json:"analysis_type"`
	PropsOnly    bool      `json:"props_only"`
	SnapshotAt   time.Time `json:"snapshot_at"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	ReceiveCount int       `json:"-"`
}

// Payload renders the item as the literal mapping handed to the analysis
// handler.
func (i Item) Payload() job.Payload {
	return job.Payload{
		"sport":         i.Sport,
		"model":         i.Model,
		"bet_type":      i.BetType,
		"analysis_type": i.AnalysisType,
		"props_only":    i.PropsOnly,
	}
}

// Delivery is a received item plus the receipt the queue needs to ack or
// nack it.
type Delivery struct {
	Item    Item
	Receipt string
}

// Queue is the fan-out transport. Items are visible to at most one worker at
// a time; an unacked item becomes visible again after the visibility window,
// and the queue moves items past its max receive count to its own
// dead-letter destination. Partial batch results are expressed by acking and
// nacking deliveries individually.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	// ReceiveBatch blocks up to wait for at least one item and returns at
	// most maxItems deliveries. An empty queue yields an empty slice, not an
	// error.
	ReceiveBatch(ctx context.Context, maxItems int, wait time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	Nack(ctx context.Context, d Delivery) error
}
