// Package pagination walks a category's search result pages newest-first
// and stops at the first listing already seen in the previous cycle.
package pagination

import (
	"context"

	"github.com/rotisserie/eris"
)

const cursorKeyPrefix = "discovery-cursor-"

// CursorKey is the key-value key a category's cursor is persisted under.
func CursorKey(category string) string {
	return cursorKeyPrefix + category
}

// Cursor is the pagination state of one category. LastFirstID is the newest
// eligible marketplace id of the previous completed cycle; CurrentFirstID is
// the newest of the cycle in progress.
type Cursor struct {
	Category       string  `json:"category"`
	LastFirstID    *string `json:"last_first_id,omitempty"`
	CurrentFirstID *string `json:"current_first_id,omitempty"`
}

// CursorStore persists LastFirstID per category. GetCursor returns nil when
// the category has never completed a cycle.
type CursorStore interface {
	GetCursor(ctx context.Context, category string) (*string, error)
	SetCursor(ctx context.Context, category, id string) error
}

// Mode selects how deep a category is paged.
type Mode int

const (
	// ModeIncremental pages until the cursor is found or the safety limit.
	ModeIncremental Mode = iota
	// ModeBaseline is a fixed shallow scan used before any cursor exists.
	ModeBaseline
)

func (m Mode) String() string {
	switch m {
	case ModeIncremental:
		return "incremental"
	case ModeBaseline:
		return "baseline"
	default:
		return "unknown"
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ResolveMode returns ModeBaseline when none of the categories has a stored
// cursor, otherwise ModeIncremental.
func ResolveMode(ctx context.Context, cursors CursorStore, categories []string) (Mode, error) {
	for _, c := range categories {
		id, err := cursors.GetCursor(ctx, c)
		if err != nil {
			return ModeIncremental, eris.Wrapf(err, "pagination: read cursor %s", c)
		}
		if id != nil {
			return ModeIncremental, nil
		}
	}
	return ModeBaseline, nil
}
