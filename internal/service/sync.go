package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/voyagen/guidevault/internal/diff"
	"github.com/voyagen/guidevault/internal/fetcher"
	"github.com/voyagen/guidevault/internal/identity"
	"github.com/voyagen/guidevault/internal/jobs"
	"github.com/voyagen/guidevault/internal/mapping"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/sortorder"
	"github.com/voyagen/guidevault/internal/store"
)

// Progress bands of a job's phases.
const (
	progressDownloading = 5
	progressParsing     = 30
	progressImporting   = 60
	progressWriting     = 90
)

// RunSync executes a sync job for a playlist or a guide file.
func (s *Service) RunSync(ctx context.Context, req jobs.Request, rep *jobs.Reporter) (*models.SyncSummary, error) {
	switch req.Target.Kind {
	case models.TargetPlaylist:
		return s.syncPlaylist(ctx, req, rep)
	case models.TargetEpgFile:
		return s.syncEpgFile(ctx, req.Target.ID, rep)
	}
	return nil, fmt.Errorf("unsupported sync target %s", req.Target)
}

// source is one parsed playlist download.
type source struct {
	records    []models.SourceRecord
	categories []models.Category
	selection  []string
	guideURL   *string
}

func (s *Service) syncPlaylist(ctx context.Context, req jobs.Request, rep *jobs.Reporter) (*models.SyncSummary, error) {
	pl, err := s.store.GetPlaylist(ctx, req.Target.ID)
	if err != nil {
		return nil, fmt.Errorf("load playlist: %w", err)
	}
	strategy, err := identity.ForPlaylist(pl)
	if err != nil {
		return nil, fmt.Errorf("identifier: %w", err)
	}
	existingCats, err := s.store.ListCategories(ctx, pl.ID)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	if err := rep.Advance(ctx, models.JobDownloading, progressDownloading, "downloading "+pl.Name); err != nil {
		return nil, err
	}
	var src *source
	if pl.IsProviderAPI() {
		src, err = s.fetchProvider(ctx, pl, existingCats, req.CategoryIDs, rep)
	} else {
		src, err = s.fetchM3U(ctx, pl, existingCats, rep)
	}
	if err != nil {
		return nil, err
	}
	rep.SetTotals(len(src.records), len(src.categories))

	if err := rep.Advance(ctx, models.JobImporting, progressImporting, "reconciling channels"); err != nil {
		return nil, err
	}
	existing, err := s.store.ListChannels(ctx, pl.ID)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	res := diff.Reconcile(existing, src.records, strategy.ChannelKey, strategy.Extract)

	updated := mapping.CarryForward(res.Matched)
	added := make([]models.Channel, 0, len(res.Added))
	for i := range res.Added {
		added = append(added, mapping.NewChannel(pl.ID, &res.Added[i]))
	}
	if err := layoutSync(src.categories, updated, added); err != nil {
		return nil, err
	}

	removed := make([]int64, 0, len(res.Removed))
	for _, ch := range res.Removed {
		removed = append(removed, ch.ID)
	}
	if err := rep.Advance(ctx, models.JobImporting, progressWriting,
		fmt.Sprintf("writing %d added, %d removed, %d unchanged", len(added), len(removed), len(updated))); err != nil {
		return nil, err
	}
	err = s.store.ApplyPlaylistSync(ctx, &store.PlaylistSync{
		PlaylistID: pl.ID,
		Categories: src.categories,
		Selection:  src.selection,
		Removed:    removed,
		Updated:    updated,
		Added:      added,
		GuideURL:   src.guideURL,
	})
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return diff.Summarize(res,
		func(c *models.Channel) string { return c.Name },
		func(r *models.SourceRecord) string { return r.DisplayName },
	), nil
}

func (s *Service) fetchM3U(ctx context.Context, pl *models.Playlist, existing []models.Category, rep *jobs.Reporter) (*source, error) {
	body, err := s.fetch.Fetch(ctx, pl.URL, "m3u")
	if err != nil {
		return nil, err
	}
	if err := rep.Advance(ctx, models.JobParsing, progressParsing, fmt.Sprintf("parsing %d bytes", len(body))); err != nil {
		return nil, err
	}
	parsed, err := fetcher.ParseM3UBytes(body)
	if err != nil {
		return nil, err
	}
	src := &source{
		records:    parsed.Records,
		categories: mergeCategories(existing, parsed.Categories, nil),
	}
	if parsed.GuideURL != "" {
		src.guideURL = &parsed.GuideURL
	}
	return src, nil
}

func (s *Service) fetchProvider(ctx context.Context, pl *models.Playlist, existing []models.Category, selection []string, rep *jobs.Reporter) (*source, error) {
	xs := fetcher.XtreamSourceFor(pl)
	hints, err := s.api.Categories(ctx, xs)
	if err != nil {
		return nil, err
	}
	if err := checkSelection(hints, selection); err != nil {
		return nil, err
	}
	cats := mergeCategories(existing, hints, selection)
	var wanted []models.CategoryHint
	for _, c := range cats {
		if c.IsSelected {
			wanted = append(wanted, models.CategoryHint{ID: c.CategoryID, Name: c.CategoryName})
		}
	}
	if err := rep.Advance(ctx, models.JobParsing, progressParsing,
		fmt.Sprintf("listing %d of %d categories", len(wanted), len(cats))); err != nil {
		return nil, err
	}
	res, err := s.api.Streams(ctx, xs, wanted)
	if err != nil {
		return nil, err
	}
	return &source{records: res.Records, categories: cats, selection: selection}, nil
}

// checkSelection rejects selected ids the provider does not list.
func checkSelection(hints []models.CategoryHint, selection []string) error {
	listed := make(map[string]bool, len(hints))
	for _, h := range hints {
		listed[h.ID] = true
	}
	var unknown []string
	for _, id := range selection {
		if !listed[id] {
			unknown = append(unknown, strconv.Quote(id))
		}
	}
	if len(unknown) > 0 {
		return invalid("unknown categories %s", strings.Join(unknown, ", "))
	}
	return nil
}

// mergeCategories returns the category set of a download. Known categories
// keep their position and selection; new ones follow in source order and
// start selected. A non-nil selection overrides every category's flag.
func mergeCategories(existing []models.Category, hints []models.CategoryHint, selection []string) []models.Category {
	known := make(map[string]models.Category, len(existing))
	next := 0
	for _, c := range existing {
		known[c.CategoryID] = c
		next = max(next, c.SortOrder+1)
	}
	var pick map[string]bool
	if selection != nil {
		pick = make(map[string]bool, len(selection))
		for _, id := range selection {
			pick[id] = true
		}
	}
	out := make([]models.Category, 0, len(hints))
	seen := make(map[string]bool, len(hints))
	for _, h := range hints {
		if h.ID == "" || seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		c, ok := known[h.ID]
		if !ok {
			c = models.Category{CategoryID: h.ID, IsSelected: true, SortOrder: next}
			next++
		}
		c.CategoryName = h.Name
		if pick != nil {
			c.IsSelected = pick[h.ID]
		}
		out = append(out, c)
	}
	return out
}

// layoutSync assigns unique sort keys to the channels and categories of a
// sync in place. Matched channels keep their relative order; added channels
// follow the channels of their category in source order.
func layoutSync(categories []models.Category, updated, added []models.Channel) error {
	next := 0
	for _, ch := range updated {
		next = max(next, ch.SortOrder+1)
	}
	all := make([]models.Channel, 0, len(updated)+len(added))
	all = append(all, updated...)
	for i, ch := range added {
		// Added channels have no id yet; negative ids keep them addressable.
		ch.ID = -int64(i + 1)
		ch.SortOrder = next + i
		all = append(all, ch)
	}
	upd, catUpd, err := sortorder.AssignLayout(sortorder.NewLayout(categories, all))
	if err != nil {
		return err
	}
	pos := make(map[string]int, len(catUpd))
	for _, u := range catUpd {
		pos[u.CategoryID] = u.SortOrder
	}
	for i := range categories {
		categories[i].SortOrder = pos[categories[i].CategoryID]
	}
	keys := make(map[int64]int, len(upd))
	for _, u := range upd {
		keys[u.ChannelID] = u.SortOrder
	}
	for i := range updated {
		updated[i].SortOrder = keys[updated[i].ID]
	}
	for i := range added {
		added[i].SortOrder = keys[-int64(i+1)]
	}
	return nil
}

func (s *Service) syncEpgFile(ctx context.Context, fileID int64, rep *jobs.Reporter) (*models.SyncSummary, error) {
	f, err := s.store.GetEpgFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("load guide: %w", err)
	}
	if err := rep.Advance(ctx, models.JobDownloading, progressDownloading, "downloading "+f.Name); err != nil {
		return nil, err
	}
	body, err := s.fetch.Fetch(ctx, f.URL, "xmltv")
	if err != nil {
		return nil, err
	}
	if err := rep.Advance(ctx, models.JobParsing, progressParsing, fmt.Sprintf("parsing %d bytes", len(body))); err != nil {
		return nil, err
	}
	guide, err := fetcher.ParseXMLTV(body)
	if err != nil {
		return nil, err
	}
	for i := range guide.Channels {
		guide.Channels[i].EpgFileID = f.ID
	}
	rep.SetTotals(len(guide.Channels), 0)

	if err := rep.Advance(ctx, models.JobImporting, progressImporting, "reconciling guide channels"); err != nil {
		return nil, err
	}
	old, err := s.store.ListEpgChannels(ctx, f.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load guide channels: %w", err)
	}
	byID := func(c *models.EpgChannel) string { return c.ChannelID }
	res := diff.Reconcile(old, guide.Channels, byID, byID)

	if err := rep.Advance(ctx, models.JobImporting, progressWriting,
		fmt.Sprintf("writing %d channels, %d programmes", len(guide.Channels), guide.ProgrammeCount)); err != nil {
		return nil, err
	}
	if err := s.store.ApplyEpgSync(ctx, f.ID, guide.Channels, guide.ProgrammeCount); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	name := func(c *models.EpgChannel) string { return c.Name }
	return diff.Summarize(res, name, name), nil
}
