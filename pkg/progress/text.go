package progress

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/apyrgio/kamaki/internal/logger"
)

// Text builds a Factory that logs an Info-level line per tick,
// throttled to avoid flooding logs on many small blocks. Grounded on
// the structured Info-level progress lines dittofs emits during long
// background transfers.
func Text(direction, object string) Factory {
	return func(total int) Ticker {
		return &textTicker{
			direction: direction,
			object:    object,
			total:     total,
			start:     time.Now(),
			minGap:    200 * time.Millisecond,
		}
	}
}

type textTicker struct {
	direction string
	object    string
	total     int

	done   int
	start  time.Time
	last   time.Time
	minGap time.Duration
}

// Tick implements Ticker.
func (t *textTicker) Tick() {
	t.done++
	now := time.Now()
	if t.done < t.total && now.Sub(t.last) < t.minGap {
		return
	}
	t.last = now

	logger.InfoCtx(context.Background(), "transfer progress",
		logger.Direction(t.direction),
		logger.Object(t.object),
		"blocks_done", t.done,
		"blocks_total", t.total,
		"elapsed", humanize.RelTime(t.start, now, "", ""),
	)
}
