// Package sortorder computes channel sort keys.
//
// Each category owns a block of BlockSize consecutive values
// (categoryIndex*BlockSize + position). Channels without a category follow
// all blocks, starting at UncategorizedBase. When a category holds more than
// BlockSize channels every block widens to the next multiple of BlockSize, so
// keys stay unique within a playlist.
package sortorder

import (
	"errors"
	"sort"

	"github.com/voyagen/guidevault/internal/models"
)

const (
	BlockSize         = 1000
	UncategorizedBase = 1_000_000_000
)

// ErrTooManyCategories is returned when the category blocks would run into
// the uncategorized range.
var ErrTooManyCategories = errors.New("sortorder: category blocks exceed the uncategorized base")

// Update is a new sort key for one channel.
type Update struct {
	ChannelID int64 `json:"id"`
	SortOrder int   `json:"sort_order"`
}

// CategoryUpdate is a new position for one category.
type CategoryUpdate struct {
	CategoryID string `json:"category_id"`
	SortOrder  int    `json:"sort_order"`
}

// Layout is a playlist's channels bucketed by category in display order.
type Layout struct {
	Categories []string // category ids in order
	Channels   map[string][]models.Channel
	Orphans    []models.Channel // no category, or a category not in Categories
}

// NewLayout groups channels under categories (sorted by their SortOrder).
// Within a bucket channels are ordered by current SortOrder, then id.
func NewLayout(categories []models.Category, channels []models.Channel) Layout {
	cats := append([]models.Category(nil), categories...)
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].SortOrder < cats[j].SortOrder })

	l := Layout{Channels: make(map[string][]models.Channel, len(cats))}
	known := make(map[string]bool, len(cats))
	for _, c := range cats {
		if known[c.CategoryID] {
			continue
		}
		known[c.CategoryID] = true
		l.Categories = append(l.Categories, c.CategoryID)
	}
	for _, ch := range channels {
		if ch.CategoryID != nil && known[*ch.CategoryID] {
			l.Channels[*ch.CategoryID] = append(l.Channels[*ch.CategoryID], ch)
			continue
		}
		l.Orphans = append(l.Orphans, ch)
	}
	for _, list := range l.Channels {
		sortChannels(list)
	}
	sortChannels(l.Orphans)
	return l
}

func sortChannels(list []models.Channel) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].SortOrder != list[j].SortOrder {
			return list[i].SortOrder < list[j].SortOrder
		}
		return list[i].ID < list[j].ID
	})
}

// BlockSizeFor returns the block width needed for the largest category.
func BlockSizeFor(maxCount int) int {
	if maxCount <= BlockSize {
		return BlockSize
	}
	return (maxCount + BlockSize - 1) / BlockSize * BlockSize
}

// BlockSize returns the block width needed by the layout.
func (l Layout) BlockSize() int {
	var n int
	for _, list := range l.Channels {
		n = max(n, len(list))
	}
	return BlockSizeFor(n)
}

// Base returns the first sort key of a category's block, or UncategorizedBase
// when the category is not part of the layout.
func (l Layout) Base(categoryID *string) int {
	if categoryID == nil {
		return UncategorizedBase
	}
	block := l.BlockSize()
	for i, id := range l.Categories {
		if id == *categoryID {
			return i * block
		}
	}
	return UncategorizedBase
}

// AssignForCategoryOrder recomputes every channel's key for the given
// category order. channelsByCategory lists channels per category id in
// their in-category order; the "" bucket holds channels without a category.
// Channels filed under ids missing from categories join the uncategorized
// range after the "" bucket, sorted by category id.
func AssignForCategoryOrder(categories []string, channelsByCategory map[string][]models.Channel) ([]Update, []CategoryUpdate, error) {
	var maxCount int
	for _, id := range categories {
		maxCount = max(maxCount, len(channelsByCategory[id]))
	}
	block := BlockSizeFor(maxCount)
	if len(categories)*block > UncategorizedBase {
		return nil, nil, ErrTooManyCategories
	}

	var updates []Update
	catUpdates := make([]CategoryUpdate, 0, len(categories))
	listed := make(map[string]bool, len(categories))
	for i, id := range categories {
		listed[id] = true
		catUpdates = append(catUpdates, CategoryUpdate{CategoryID: id, SortOrder: i})
		for pos, ch := range channelsByCategory[id] {
			updates = append(updates, Update{ChannelID: ch.ID, SortOrder: i*block + pos})
		}
	}

	var rest []string
	for id := range channelsByCategory {
		if id != "" && !listed[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	pos := 0
	for _, id := range append([]string{""}, rest...) {
		for _, ch := range channelsByCategory[id] {
			updates = append(updates, Update{ChannelID: ch.ID, SortOrder: UncategorizedBase + pos})
			pos++
		}
	}
	return updates, catUpdates, nil
}

// AssignLayout recomputes keys for a layout's own category order.
func AssignLayout(l Layout) ([]Update, []CategoryUpdate, error) {
	byCat := make(map[string][]models.Channel, len(l.Channels)+1)
	for id, list := range l.Channels {
		byCat[id] = list
	}
	byCat[""] = append(byCat[""], l.Orphans...)
	return AssignForCategoryOrder(l.Categories, byCat)
}

// AssignForChannelOrder reorders channels within one block starting at base.
// newPositions maps channel id to the requested index in the block. Unlisted
// channels keep their relative order; listed channels are inserted at their
// index in ascending order (ties by current index), clamped to the block end.
// Only channels of the block get updates.
func AssignForChannelOrder(channelsInCategory []models.Channel, newPositions map[int64]int, base int) []Update {
	type move struct {
		id    int64
		pos   int
		index int
	}
	var moves []move
	order := make([]int64, 0, len(channelsInCategory))
	for i, ch := range channelsInCategory {
		if p, ok := newPositions[ch.ID]; ok {
			moves = append(moves, move{id: ch.ID, pos: p, index: i})
			continue
		}
		order = append(order, ch.ID)
	}
	sort.SliceStable(moves, func(i, j int) bool {
		if moves[i].pos != moves[j].pos {
			return moves[i].pos < moves[j].pos
		}
		return moves[i].index < moves[j].index
	})
	for _, m := range moves {
		at := min(max(m.pos, 0), len(order))
		order = append(order, 0)
		copy(order[at+1:], order[at:])
		order[at] = m.id
	}
	updates := make([]Update, len(order))
	for i, id := range order {
		updates[i] = Update{ChannelID: id, SortOrder: base + i}
	}
	return updates
}
