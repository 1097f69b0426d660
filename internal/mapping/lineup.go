package mapping

import "github.com/voyagen/guidevault/internal/models"

// LineupEntries converts one EPG file's channels into lineup entries.
func LineupEntries(channels []models.EpgChannel) []models.LineupEntry {
	out := make([]models.LineupEntry, 0, len(channels))
	for _, c := range channels {
		id := c.ChannelID
		grp := c.Group
		if grp == "" {
			grp = models.CatchAllCategory
		}
		out = append(out, models.LineupEntry{
			Name:      c.Name,
			Logo:      c.Logo,
			TvgID:     &id,
			ExtGrp:    &grp,
			EpgFileID: c.EpgFileID,
		})
	}
	return out
}

// MergeLineup unions the lineups of several EPG files, in file order.
// The first entry for an identity wins, and entries in the catch-all
// category follow all others while keeping their relative order.
func MergeLineup(files ...[]models.EpgChannel) []models.LineupEntry {
	seen := make(map[string]bool)
	var head, tail []models.LineupEntry
	for _, channels := range files {
		for _, e := range LineupEntries(channels) {
			k := e.Key()
			if seen[k] {
				continue
			}
			seen[k] = true
			if e.ExtGrp != nil && *e.ExtGrp == models.CatchAllCategory {
				tail = append(tail, e)
				continue
			}
			head = append(head, e)
		}
	}
	return append(head, tail...)
}
