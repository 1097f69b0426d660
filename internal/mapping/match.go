package mapping

import (
	"github.com/voyagen/guidevault/internal/identity"
	"github.com/voyagen/guidevault/internal/models"
)

// Update sets (or, with a nil Mapping, clears) one channel's mapping.
type Update struct {
	ChannelID int64                  `json:"channel_id"`
	Mapping   *models.ChannelMapping `json:"mapping"`
}

// Result reports a bulk mapping operation.
type Result struct {
	Updates []Update
	Mapped  int
	// NotFound lists incoming entries whose identity is absent from the target.
	NotFound []string
	// Unmatched lists target channels that no incoming entry matched.
	Unmatched []string
}

// index maps identity keys of target channels to the first channel carrying them.
type index struct {
	byKey   map[string]int
	targets []models.Channel
	hit     []bool
}

func newIndex(targets []models.Channel, s identity.Strategy) *index {
	ix := &index{byKey: make(map[string]int, len(targets)), targets: targets, hit: make([]bool, len(targets))}
	for i := range targets {
		k := s.ChannelKey(&targets[i])
		if _, ok := ix.byKey[k]; !ok {
			ix.byKey[k] = i
		}
	}
	return ix
}

func (ix *index) lookup(key string) (*models.Channel, bool) {
	i, ok := ix.byKey[key]
	if !ok {
		return nil, false
	}
	ix.hit[i] = true
	return &ix.targets[i], true
}

func (ix *index) unmatched() []string {
	out := []string{}
	for i := range ix.targets {
		if !ix.hit[i] {
			out = append(out, ix.targets[i].Name)
		}
	}
	return out
}

// CopyMappings copies mappings from source channels onto target channels with
// the same identity, each side keyed by its own playlist strategy. Source
// channels without a mapping are ignored.
func CopyMappings(source []models.Channel, sourceStrategy identity.Strategy, target []models.Channel, targetStrategy identity.Strategy) Result {
	ix := newIndex(target, targetStrategy)
	res := Result{NotFound: []string{}}
	seen := make(map[string]bool)
	for i := range source {
		src := &source[i]
		if src.Mapping == nil {
			continue
		}
		key := sourceStrategy.ChannelKey(src)
		if seen[key] {
			continue
		}
		seen[key] = true
		dst, ok := ix.lookup(key)
		if !ok {
			res.NotFound = append(res.NotFound, src.Name)
			continue
		}
		m := *src.Mapping
		res.Updates = append(res.Updates, Update{ChannelID: dst.ID, Mapping: &m})
		res.Mapped++
	}
	res.Unmatched = ix.unmatched()
	return res
}

// ImportEntries matches JSON mapping entries against a playlist. An entry's
// identity is its explicit identifier when given, otherwise the target
// strategy applied to the entry. Matched entries carrying a mapping produce an
// update; unmatched entries are reported and never create channels.
func ImportEntries(entries []models.MappingEntry, target []models.Channel, s identity.Strategy) Result {
	ix := newIndex(target, s)
	res := Result{NotFound: []string{}}
	seen := make(map[string]bool)
	for i := range entries {
		e := &entries[i]
		key := EntryKey(e, s)
		if seen[key] {
			continue
		}
		seen[key] = true
		dst, ok := ix.lookup(key)
		if !ok {
			label := e.Name
			if label == "" {
				label = key
			}
			res.NotFound = append(res.NotFound, label)
			continue
		}
		if e.Mapping == nil {
			continue
		}
		m := *e.Mapping
		res.Updates = append(res.Updates, Update{ChannelID: dst.ID, Mapping: &m})
		res.Mapped++
	}
	res.Unmatched = ix.unmatched()
	return res
}

// EntryKey returns the identity key of an import entry.
func EntryKey(e *models.MappingEntry, s identity.Strategy) string {
	if e.Identifier != "" {
		return e.Identifier
	}
	r := e.Record()
	return s.Extract(&r)
}
