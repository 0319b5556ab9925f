package dedup

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const scanBatchSize = 500

// ScanResult summarizes a full-corpus scan.
type ScanResult struct {
	Scanned int `json:"scanned"`
	Skipped int `json:"skipped"`
	Grouped int `json:"grouped"`
}

// ScanAll walks every ungrouped, non-excluded listing once and groups it with
// its duplicates. Each listing is re-read right before grouping and skipped
// if it was grouped in the meantime, by this scan or by a concurrent writer.
func (d *Detector) ScanAll(ctx context.Context) (ScanResult, error) {
	log := zap.L().With(zap.String("component", "dedup.scan"))
	var res ScanResult

	var afterID int64
	for {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		batch, err := d.store.ListUngrouped(ctx, afterID, scanBatchSize)
		if err != nil {
			return res, eris.Wrap(err, "dedup: list ungrouped listings")
		}
		if len(batch) == 0 {
			break
		}

		for _, item := range batch {
			afterID = item.ID
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Scanned++

			current, err := d.store.GetListing(ctx, item.ID)
			if err != nil {
				log.Warn("dedup: re-read failed, skipping", zap.Int64("listing_id", item.ID), zap.Error(err))
				res.Skipped++
				continue
			}
			if current == nil || current.DuplicateGroupID != nil || current.Excluded {
				res.Skipped++
				continue
			}

			g, err := d.Process(ctx, current)
			if err != nil {
				log.Warn("dedup: grouping failed", zap.Int64("listing_id", item.ID), zap.Error(err))
				continue
			}
			if g != nil {
				res.Grouped++
			}
		}

		if len(batch) < scanBatchSize {
			break
		}
	}

	log.Info("dedup: scan complete",
		zap.Int("scanned", res.Scanned),
		zap.Int("skipped", res.Skipped),
		zap.Int("grouped", res.Grouped),
	)
	return res, nil
}
