// Package export writes the scored listing feed to spreadsheets for the
// acquisition team.
package export

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/listing-radar/internal/model"
)

// SheetName is the worksheet the feed is written to.
const SheetName = "Listings"

const defaultBatch = 500

// Columns is the header row of the feed.
var Columns = []string{
	"URL", "Title", "Category", "Location", "Region",
	"Price", "Area", "Price/Area",
	"Score", "Tier", "Gold Find",
	"Duplicate Group", "Primary", "Duplicate Sources",
	"Price Drops", "Last Drop %", "Last Drop At",
	"First Seen", "Last Changed",
}

// Querier pages through stored listings.
type Querier interface {
	QueryListings(ctx context.Context, filter model.ListingFilter) ([]model.Listing, error)
}

// Options configures WriteXLSX.
type Options struct {
	Filter model.ListingFilter
	// BatchSize is the page size used against the store. Filter.Limit caps
	// the total number of rows.
	BatchSize int
}

// WriteXLSX queries every listing matching opts.Filter and saves them to
// path. It returns the number of data rows written.
func WriteXLSX(ctx context.Context, q Querier, path string, opts Options) (int, error) {
	log := zap.L().With(zap.String("component", "export"), zap.String("path", path))

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}
	header := sheet.AddRow()
	for _, c := range Columns {
		header.AddCell().SetString(c)
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatch
	}
	total := opts.Filter.Limit

	filter := opts.Filter
	written := 0
	for {
		if err := ctx.Err(); err != nil {
			return written, eris.Wrap(err, "export: context cancelled")
		}
		filter.Limit = batch
		if total > 0 && total-written < batch {
			filter.Limit = total - written
		}
		page, err := q.QueryListings(ctx, filter)
		if err != nil {
			return written, eris.Wrapf(err, "export: query listings at offset %d", filter.Offset)
		}
		for i := range page {
			writeRow(sheet.AddRow(), &page[i])
		}
		written += len(page)
		filter.Offset += len(page)

		if len(page) < filter.Limit || (total > 0 && written >= total) {
			break
		}
	}

	if err := f.Save(path); err != nil {
		return written, eris.Wrap(err, "export: save file")
	}
	log.Info("listing feed exported", zap.Int("rows", written))
	return written, nil
}

func writeRow(row *xlsx.Row, l *model.Listing) {
	row.AddCell().SetString(l.URL)
	row.AddCell().SetString(l.Title)
	row.AddCell().SetString(l.Category)
	row.AddCell().SetString(l.Location)
	row.AddCell().SetString(l.Region)
	row.AddCell().SetFloat(l.Price)
	optionalFloat(row.AddCell(), l.Area)
	optionalFloat(row.AddCell(), l.PricePerArea)
	row.AddCell().SetInt(l.QualityScore)
	row.AddCell().SetString(l.QualityTier)
	row.AddCell().SetBool(l.IsGoldFind)

	group := row.AddCell()
	if l.DuplicateGroupID != nil {
		group.SetInt64(*l.DuplicateGroupID)
	}
	row.AddCell().SetBool(l.IsPrimaryListing)
	row.AddCell().SetString(strings.Join(l.DuplicateSources, ", "))

	row.AddCell().SetInt(l.TotalPriceDrops)
	optionalFloat(row.AddCell(), l.LastPriceDropPercentage)
	optionalTime(row.AddCell(), l.LastPriceDropAt)
	optionalTime(row.AddCell(), &l.FirstSeenAt)
	optionalTime(row.AddCell(), &l.LastChangedAt)
}

func optionalFloat(c *xlsx.Cell, v float64) {
	if v != 0 {
		c.SetFloat(v)
	}
}

func optionalTime(c *xlsx.Cell, t *time.Time) {
	if t != nil && !t.IsZero() {
		c.SetString(t.UTC().Format(time.RFC3339))
	}
}
