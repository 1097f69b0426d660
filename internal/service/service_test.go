package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/voyagen/guidevault/internal/fetcher"
	"github.com/voyagen/guidevault/internal/jobs"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/sortorder"
	"github.com/voyagen/guidevault/internal/store"
	"github.com/voyagen/guidevault/internal/store/storetest"
)

var errBoom = errors.New("boom")

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	gate   chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL, _ string) ([]byte, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[rawURL]; err != nil {
		return nil, err
	}
	body, ok := f.bodies[rawURL]
	if !ok {
		return nil, &fetcher.FetchError{URL: rawURL, StatusCode: 404}
	}
	return []byte(body), nil
}

func (f *fakeFetcher) set(rawURL, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[rawURL] = body
}

func (f *fakeFetcher) fail(rawURL string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[rawURL] = err
}

type fakeAPI struct {
	categories []models.CategoryHint
	streams    map[string][]models.SourceRecord
	requested  []string
}

func (a *fakeAPI) Categories(context.Context, fetcher.XtreamSource) ([]models.CategoryHint, error) {
	return a.categories, nil
}

func (a *fakeAPI) Streams(_ context.Context, _ fetcher.XtreamSource, cats []models.CategoryHint) (*fetcher.Result, error) {
	a.requested = nil
	res := &fetcher.Result{Categories: cats}
	for _, c := range cats {
		a.requested = append(a.requested, c.ID)
		res.Records = append(res.Records, a.streams[c.ID]...)
	}
	return res, nil
}

type harness struct {
	st  *storetest.Memory
	f   *fakeFetcher
	api *fakeAPI
	svc *Service
	mgr *jobs.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		st:  storetest.New(),
		f:   &fakeFetcher{bodies: map[string]string{}, errs: map[string]error{}},
		api: &fakeAPI{streams: map[string][]models.SourceRecord{}},
	}
	h.svc = New(h.st, h.f, h.api)
	h.mgr = jobs.NewManager(h.st, h.svc, jobs.Options{})
	h.svc.SetGuard(h.mgr)
	return h
}

func (h *harness) playlist(t *testing.T, name, body string) *models.Playlist {
	t.Helper()
	url := "http://src.test/" + name + ".m3u"
	h.f.set(url, body)
	p := &models.Playlist{Name: name, URL: url, SourceType: models.SourceTypeM3U, Enabled: true}
	if err := h.svc.CreatePlaylist(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func (h *harness) sync(t *testing.T, target models.Target, categoryIDs []string) *models.SyncJob {
	t.Helper()
	id, err := h.mgr.StartSync(context.Background(), target, categoryIDs)
	if err != nil {
		t.Fatal(err)
	}
	h.mgr.Wait()
	j, err := h.st.GetSyncJob(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func (h *harness) syncPlaylist(t *testing.T, p *models.Playlist) *models.SyncJob {
	t.Helper()
	return h.sync(t, playlistTarget(p.ID), nil)
}

func (h *harness) channels(t *testing.T, playlistID int64) map[string]models.Channel {
	t.Helper()
	list, err := h.st.ListChannels(context.Background(), playlistID)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]models.Channel, len(list))
	for _, ch := range list {
		out[ch.Name] = ch
	}
	return out
}

func m3u(names ...string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, n := range names {
		fmt.Fprintf(&b, "#EXTINF:-1 tvg-id=\"%s\" group-title=\"News\",%s\nhttp://streams.test/%s\n", strings.ToLower(n), n, n)
	}
	return b.String()
}

func requireCompleted(t *testing.T, j *models.SyncJob) {
	t.Helper()
	if j.Status != models.JobCompleted {
		msg := j.Message
		if j.Error != nil {
			msg = *j.Error
		}
		t.Fatalf("job %d status = %s: %s", j.ID, j.Status, msg)
	}
}

func TestResyncIsIdempotent(t *testing.T) {
	h := newHarness(t)
	p := h.playlist(t, "a", m3u("X", "Y", "Z"))

	first := h.syncPlaylist(t, p)
	requireCompleted(t, first)
	if first.Summary.AddedCount != 3 || first.TotalChannels != 3 || first.TotalCategories != 1 {
		t.Fatalf("first summary = %+v", first)
	}
	before := h.channels(t, p.ID)

	second := h.syncPlaylist(t, p)
	requireCompleted(t, second)
	if second.Summary.AddedCount != 0 || second.Summary.RemovedCount != 0 || second.Summary.UnchangedCount != 3 {
		t.Errorf("second summary = %+v", second.Summary)
	}
	if second.Progress != 100 {
		t.Errorf("progress = %d", second.Progress)
	}
	after := h.channels(t, p.ID)
	for name, ch := range before {
		if after[name].ID != ch.ID || after[name].SortOrder != ch.SortOrder {
			t.Errorf("%s changed: %+v -> %+v", name, ch, after[name])
		}
	}
}

func TestResyncAddsAndRemoves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.playlist(t, "a", m3u("X", "Y"))
	requireCompleted(t, h.syncPlaylist(t, p))

	y := h.channels(t, p.ID)["Y"]
	if err := h.svc.SetMapping(ctx, y.ID, &models.ChannelMapping{Name: "Y HD", Logo: "y.png"}); err != nil {
		t.Fatal(err)
	}

	h.f.set(p.URL, m3u("Y", "Z"))
	j := h.syncPlaylist(t, p)
	requireCompleted(t, j)
	s := j.Summary
	if s.AddedCount != 1 || s.RemovedCount != 1 || s.UnchangedCount != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if len(s.AddedChannels) != 1 || s.AddedChannels[0] != "Z" || s.RemovedChannels[0] != "X" {
		t.Errorf("summary lists = %v / %v", s.AddedChannels, s.RemovedChannels)
	}

	got := h.channels(t, p.ID)
	if _, ok := got["X"]; ok {
		t.Error("X still stored")
	}
	if got["Y"].ID != y.ID {
		t.Errorf("Y id = %d, want %d", got["Y"].ID, y.ID)
	}
	if m := got["Y"].Mapping; m == nil || m.Name != "Y HD" {
		t.Errorf("Y mapping = %+v", m)
	}
	if got["Z"].Mapping != nil {
		t.Error("new channel got a mapping")
	}
}

func TestManualFlagsSurviveResync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.playlist(t, "a", m3u("X"))
	requireCompleted(t, h.syncPlaylist(t, p))

	x := h.channels(t, p.ID)["X"]
	off := false
	if err := h.svc.UpdateChannelFlags(ctx, x.ID, store.ChannelFlags{IsOperational: &off}); err != nil {
		t.Fatal(err)
	}
	requireCompleted(t, h.syncPlaylist(t, p))

	got := h.channels(t, p.ID)["X"]
	if got.IsOperational || !got.IsOperationalManual {
		t.Errorf("flags after resync = operational %v manual %v", got.IsOperational, got.IsOperationalManual)
	}

	if err := h.svc.UpdateChannelFlags(ctx, x.ID, store.ChannelFlags{ClearManual: true}); err != nil {
		t.Fatal(err)
	}
	requireCompleted(t, h.syncPlaylist(t, p))
	if got := h.channels(t, p.ID)["X"]; !got.IsOperational {
		t.Error("cleared override did not return to the source value")
	}
}

func TestFailedSyncLeavesRowsUntouched(t *testing.T) {
	h := newHarness(t)
	p := h.playlist(t, "a", m3u("X", "Y"))
	requireCompleted(t, h.syncPlaylist(t, p))
	before := h.channels(t, p.ID)

	h.f.fail(p.URL, &fetcher.FetchError{URL: p.URL, StatusCode: 503})
	j := h.syncPlaylist(t, p)
	if j.Status != models.JobFailed || j.Error == nil || !strings.Contains(*j.Error, "503") {
		t.Fatalf("fetch failure job = %+v", j)
	}
	if j.Summary != nil {
		t.Error("failed job has a summary")
	}

	h.f.fail(p.URL, nil)
	h.f.set(p.URL, "<html>login</html>")
	j = h.syncPlaylist(t, p)
	if j.Status != models.JobFailed || !strings.Contains(j.Message, "parse m3u") {
		t.Fatalf("parse failure job = %+v", j)
	}

	h.f.set(p.URL, m3u("Z"))
	h.st.ApplyErr = errBoom
	j = h.syncPlaylist(t, p)
	if j.Status != models.JobFailed || !strings.Contains(j.Message, "boom") {
		t.Fatalf("commit failure job = %+v", j)
	}

	after := h.channels(t, p.ID)
	if len(after) != len(before) {
		t.Fatalf("channels = %v", after)
	}
	for name, ch := range before {
		if after[name].ID != ch.ID {
			t.Errorf("%s replaced", name)
		}
	}
}

func TestSortOrdersUniqueAcrossCategories(t *testing.T) {
	h := newHarness(t)
	body := "#EXTM3U\n"
	for i := 0; i < 12; i++ {
		body += fmt.Sprintf("#EXTINF:-1 group-title=\"G%d\",C%d\nhttp://s/%d\n", i%3, i, i)
	}
	body += "#EXTINF:-1,Loose\nhttp://s/loose\n"
	p := h.playlist(t, "a", body)
	requireCompleted(t, h.syncPlaylist(t, p))

	seen := map[int]string{}
	for name, ch := range h.channels(t, p.ID) {
		if prev, dup := seen[ch.SortOrder]; dup {
			t.Errorf("%s and %s share sort order %d", prev, name, ch.SortOrder)
		}
		seen[ch.SortOrder] = name
	}
	if got := h.channels(t, p.ID)["Loose"].SortOrder; got < sortorder.UncategorizedBase {
		t.Errorf("uncategorized key = %d", got)
	}
}

func TestImportReportsMissingEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.playlist(t, "a", m3u("X", "Y"))
	requireCompleted(t, h.syncPlaylist(t, p))

	entries := []models.MappingEntry{
		{Name: "Y", Mapping: &models.ChannelMapping{Name: "Y guide"}},
		{Name: "Ghost", Mapping: &models.ChannelMapping{Name: "Ghost guide"}},
	}
	id, err := h.mgr.StartImport(ctx, p.ID, entries)
	if err != nil {
		t.Fatal(err)
	}
	h.mgr.Wait()
	j, _ := h.st.GetImportJob(ctx, id)
	if j.Status != models.JobCompleted {
		t.Fatalf("import = %+v", j)
	}
	if j.Mapped != 1 || j.NotFound != 1 {
		t.Errorf("mapped %d not found %d", j.Mapped, j.NotFound)
	}
	if len(j.ChannelsInJSONNotInPlaylist) != 1 || j.ChannelsInJSONNotInPlaylist[0] != "Ghost" {
		t.Errorf("not in playlist = %v", j.ChannelsInJSONNotInPlaylist)
	}
	if len(j.ChannelsInPlaylistNotInJSON) != 1 || j.ChannelsInPlaylistNotInJSON[0] != "X" {
		t.Errorf("not in json = %v", j.ChannelsInPlaylistNotInJSON)
	}
	got := h.channels(t, p.ID)
	if len(got) != 2 {
		t.Errorf("import created channels: %v", got)
	}
	if m := got["Y"].Mapping; m == nil || m.Name != "Y guide" {
		t.Errorf("Y mapping = %+v", m)
	}
}

func TestCopyMappingsBetweenPlaylists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.playlist(t, "a", m3u("X", "Y"))
	b := h.playlist(t, "b", m3u("Y", "Z"))
	requireCompleted(t, h.syncPlaylist(t, a))
	requireCompleted(t, h.syncPlaylist(t, b))

	for _, ch := range h.channels(t, a.ID) {
		if err := h.svc.SetMapping(ctx, ch.ID, &models.ChannelMapping{Name: ch.Name + " guide"}); err != nil {
			t.Fatal(err)
		}
	}
	id, err := h.mgr.StartCopy(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	h.mgr.Wait()
	j, _ := h.st.GetImportJob(ctx, id)
	if j.Status != models.JobCompleted || j.Mapped != 1 {
		t.Fatalf("copy = %+v", j)
	}
	if len(j.ChannelsInJSONNotInPlaylist) != 1 || j.ChannelsInJSONNotInPlaylist[0] != "X" {
		t.Errorf("not found = %v", j.ChannelsInJSONNotInPlaylist)
	}
	got := h.channels(t, b.ID)
	if m := got["Y"].Mapping; m == nil || m.Name != "Y guide" {
		t.Errorf("Y mapping = %+v", m)
	}
	if got["Z"].Mapping != nil {
		t.Error("Z mapped")
	}
}

func TestCopyOntoItselfFails(t *testing.T) {
	h := newHarness(t)
	a := h.playlist(t, "a", m3u("X"))
	id, err := h.mgr.StartCopy(context.Background(), a.ID, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	h.mgr.Wait()
	j, _ := h.st.GetImportJob(context.Background(), id)
	if j.Status != models.JobFailed {
		t.Errorf("status = %s", j.Status)
	}
}

func TestReorderCategoryMovesBlock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := "#EXTM3U\n"
	for c := 0; c < 5; c++ {
		for i := 0; i < 3; i++ {
			body += fmt.Sprintf("#EXTINF:-1 group-title=\"G%d\",G%d-%d\nhttp://s/%d/%d\n", c, c, i, c, i)
		}
	}
	p := h.playlist(t, "a", body)
	requireCompleted(t, h.syncPlaylist(t, p))

	cats, err := h.svc.ReorderCategories(ctx, p.ID, []string{"G4"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 5 || cats[0].CategoryID != "G4" || cats[0].SortOrder != 0 {
		t.Fatalf("categories = %+v", cats)
	}
	got := h.channels(t, p.ID)
	for i := 0; i < 3; i++ {
		if k := got[fmt.Sprintf("G4-%d", i)].SortOrder; k != i {
			t.Errorf("G4-%d sort = %d, want %d", i, k, i)
		}
		if k := got[fmt.Sprintf("G0-%d", i)].SortOrder; k != sortorder.BlockSize+i {
			t.Errorf("G0-%d sort = %d", i, k)
		}
	}

	if _, err := h.svc.ReorderCategories(ctx, p.ID, []string{"nope"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown category err = %v", err)
	}
}

func TestReorderChannelsWithinBlock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := "#EXTM3U\n" +
		"#EXTINF:-1 group-title=\"A\",A0\nhttp://s/a0\n" +
		"#EXTINF:-1 group-title=\"B\",B0\nhttp://s/b0\n" +
		"#EXTINF:-1 group-title=\"B\",B1\nhttp://s/b1\n" +
		"#EXTINF:-1 group-title=\"B\",B2\nhttp://s/b2\n"
	p := h.playlist(t, "a", body)
	requireCompleted(t, h.syncPlaylist(t, p))
	before := h.channels(t, p.ID)

	// A block key and a plain index address the same slot.
	_, err := h.svc.ReorderChannels(ctx, []sortorder.Update{{ChannelID: before["B2"].ID, SortOrder: sortorder.BlockSize}})
	if err != nil {
		t.Fatal(err)
	}
	got := h.channels(t, p.ID)
	want := map[string]int{"A0": 0, "B2": 1000, "B0": 1001, "B1": 1002}
	for name, k := range want {
		if got[name].SortOrder != k {
			t.Errorf("%s sort = %d, want %d", name, got[name].SortOrder, k)
		}
	}

	if _, err := h.svc.ReorderChannels(ctx, []sortorder.Update{{ChannelID: before["B0"].ID, SortOrder: 2}}); err != nil {
		t.Fatal(err)
	}
	if k := h.channels(t, p.ID)["B0"].SortOrder; k != 1002 {
		t.Errorf("B0 sort = %d", k)
	}
	if _, err := h.svc.ReorderChannels(ctx, nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty reorder err = %v", err)
	}
}

func TestProviderSyncHonoursSelection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.categories = []models.CategoryHint{{ID: "1", Name: "News"}, {ID: "2", Name: "Sports"}}
	h.api.streams["1"] = []models.SourceRecord{{IdentityHint: "101", DisplayName: "N1", StreamRef: "http://p/101.ts", CategoryHint: "News", CategoryID: "1"}}
	h.api.streams["2"] = []models.SourceRecord{{IdentityHint: "201", DisplayName: "S1", StreamRef: "http://p/201.ts", CategoryHint: "Sports", CategoryID: "2"}}
	p := &models.Playlist{Name: "prov", URL: "http://p", SourceType: models.SourceTypeXtream, Username: "u", Password: "pw"}
	if err := h.svc.CreatePlaylist(ctx, p); err != nil {
		t.Fatal(err)
	}

	requireCompleted(t, h.sync(t, playlistTarget(p.ID), []string{"1"}))
	if got := h.channels(t, p.ID); len(got) != 1 || got["N1"].ID == 0 {
		t.Fatalf("channels = %v", got)
	}
	cats, _ := h.st.ListCategories(ctx, p.ID)
	if len(cats) != 2 || !cats[0].IsSelected || cats[1].IsSelected {
		t.Fatalf("categories = %+v", cats)
	}

	// Without a selection the stored one applies.
	requireCompleted(t, h.sync(t, playlistTarget(p.ID), nil))
	if len(h.api.requested) != 1 || h.api.requested[0] != "1" {
		t.Errorf("requested = %v", h.api.requested)
	}

	if err := h.svc.SetCategorySelection(ctx, p.ID, []string{"2"}); err != nil {
		t.Fatal(err)
	}
	j := h.sync(t, playlistTarget(p.ID), nil)
	requireCompleted(t, j)
	got := h.channels(t, p.ID)
	if _, ok := got["S1"]; !ok || len(got) != 1 {
		t.Errorf("channels after reselect = %v", got)
	}
	if j.Summary.RemovedCount != 1 || j.Summary.AddedCount != 1 {
		t.Errorf("summary = %+v", j.Summary)
	}
}

func TestProviderSyncRejectsUnknownSelection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.categories = []models.CategoryHint{{ID: "1", Name: "News"}}
	h.api.streams["1"] = []models.SourceRecord{{IdentityHint: "101", DisplayName: "N1", StreamRef: "http://p/101.ts", CategoryID: "1"}}
	p := &models.Playlist{Name: "prov", URL: "http://p", SourceType: models.SourceTypeXtream, Username: "u", Password: "pw"}
	if err := h.svc.CreatePlaylist(ctx, p); err != nil {
		t.Fatal(err)
	}

	j := h.sync(t, playlistTarget(p.ID), []string{"1", "9"})
	if j.Status != models.JobFailed || !strings.Contains(j.Message, `unknown categories "9"`) {
		t.Fatalf("job = %s %q", j.Status, j.Message)
	}
	if len(h.api.requested) != 0 {
		t.Errorf("streams listed for %v", h.api.requested)
	}
	if cats, _ := h.st.ListCategories(ctx, p.ID); len(cats) != 0 {
		t.Errorf("categories stored: %+v", cats)
	}
}

const guideA = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="a"><display-name>Alpha</display-name><category>News</category></channel>
  <channel id="b"><display-name>Bravo</display-name></channel>
  <programme channel="a" start="20260101000000 +0000" stop="20260101010000 +0000"><title>x</title></programme>
</tv>`

const guideB = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="a2"><display-name>Alpha</display-name></channel>
  <channel id="c"><display-name>Charlie</display-name><category>Sports</category></channel>
</tv>`

func TestGuideSyncAndLineup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fa := &models.EpgFile{Name: "A", URL: "http://g/a.xml"}
	fb := &models.EpgFile{Name: "B", URL: "http://g/b.xml"}
	for f, body := range map[*models.EpgFile]string{fa: guideA, fb: guideB} {
		h.f.set(f.URL, body)
		if err := h.svc.CreateEpgFile(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	j := h.sync(t, models.Target{Kind: models.TargetEpgFile, ID: fa.ID}, nil)
	requireCompleted(t, j)
	if j.Summary.AddedCount != 2 || j.TotalChannels != 2 {
		t.Errorf("guide summary = %+v", j.Summary)
	}
	if f, _ := h.st.GetEpgFile(ctx, fa.ID); f.ProgrammeCount != 1 {
		t.Errorf("programme count = %d", f.ProgrammeCount)
	}
	requireCompleted(t, h.sync(t, models.Target{Kind: models.TargetEpgFile, ID: fb.ID}, nil))

	g := &models.EpgGroup{Name: "both", FileIDs: []int64{fa.ID, fb.ID}}
	if err := h.svc.CreateEpgGroup(ctx, g); err != nil {
		t.Fatal(err)
	}
	lineup, err := h.svc.Lineup(ctx, 0, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range lineup {
		names = append(names, e.Name)
	}
	if strings.Join(names, ",") != "Alpha,Charlie,Bravo" {
		t.Errorf("lineup = %v", names)
	}
	if *lineup[0].TvgID != "a" || *lineup[2].ExtGrp != models.CatchAllCategory {
		t.Errorf("lineup entries = %+v", lineup)
	}

	if _, err := h.svc.Lineup(ctx, 0, 0); !errors.Is(err, ErrInvalid) {
		t.Errorf("no source err = %v", err)
	}
	if err := h.svc.CreateEpgGroup(ctx, &models.EpgGroup{Name: "bad", FileIDs: []int64{999}}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing file err = %v", err)
	}
}

func TestEditRejectedWhileJobActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.playlist(t, "a", m3u("X"))
	requireCompleted(t, h.syncPlaylist(t, p))
	x := h.channels(t, p.ID)["X"]

	h.f.gate = make(chan struct{})
	if _, err := h.mgr.StartSync(ctx, playlistTarget(p.ID), nil); err != nil {
		t.Fatal(err)
	}
	if err := h.svc.RenameCategory(ctx, p.ID, "News", "World"); !errors.Is(err, jobs.ErrConflict) {
		t.Errorf("rename err = %v", err)
	}
	if err := h.svc.SetMapping(ctx, x.ID, &models.ChannelMapping{Name: "X"}); !errors.Is(err, jobs.ErrConflict) {
		t.Errorf("mapping err = %v", err)
	}
	close(h.f.gate)
	h.mgr.Wait()
	h.f.gate = nil

	if err := h.svc.RenameCategory(ctx, p.ID, "News", "World"); err != nil {
		t.Fatal(err)
	}
	if got := h.channels(t, p.ID)["X"]; *got.CategoryName != "World" {
		t.Errorf("category name = %s", *got.CategoryName)
	}
}

func TestExportRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := "#EXTM3U url-tvg=\"http://g/guide.xml\"\n" +
		"#EXTINF:-1 tvg-id=\"x\" tvg-logo=\"http://l/x.png\" group-title=\"News\",X, the channel\n" +
		"#EXTVLCOPT:http-referrer=http://ref.test/\n" +
		"http://s/x\n" +
		"#EXTINF:-1 group-title=\"News\",Y\n#EXTGRP:Kids\nhttp://s/y\n"
	p := h.playlist(t, "a", body)
	requireCompleted(t, h.syncPlaylist(t, p))

	var buf bytes.Buffer
	if err := h.svc.Export(ctx, &buf, p.ID, FormatM3U, false); err != nil {
		t.Fatal(err)
	}
	h.f.set(p.URL, buf.String())
	j := h.syncPlaylist(t, p)
	requireCompleted(t, j)
	if j.Summary.AddedCount != 0 || j.Summary.RemovedCount != 0 {
		t.Errorf("resync from export = %+v\n%s", j.Summary, buf.String())
	}
	got := h.channels(t, p.ID)
	if *got["Y"].CategoryID != "Kids" || got["X, the channel"].Attributes["http-referrer"] != "http://ref.test/" {
		t.Errorf("channels after round trip = %+v", got)
	}

	buf.Reset()
	x := got["X, the channel"]
	if err := h.svc.SetMapping(ctx, x.ID, &models.ChannelMapping{Name: "X guide"}); err != nil {
		t.Fatal(err)
	}
	if err := h.svc.Export(ctx, &buf, p.ID, FormatJSON, true); err != nil {
		t.Fatal(err)
	}
	entries, err := fetcher.ParseEntries(buf.Bytes())
	if err != nil || len(entries) != 2 {
		t.Fatalf("entries = %v, %v", entries, err)
	}
	b := h.playlist(t, "b", body)
	requireCompleted(t, h.syncPlaylist(t, b))
	id, err := h.mgr.StartImport(ctx, b.ID, entries)
	if err != nil {
		t.Fatal(err)
	}
	h.mgr.Wait()
	if ij, _ := h.st.GetImportJob(ctx, id); ij.Mapped != 1 || ij.NotFound != 0 {
		t.Errorf("reimport = %+v", ij)
	}

	if err := h.svc.Export(ctx, &buf, p.ID, "xml", false); !errors.Is(err, ErrInvalid) {
		t.Errorf("bad format err = %v", err)
	}
}

func TestCreatePlaylistValidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cases := []*models.Playlist{
		{Name: "no url", SourceType: models.SourceTypeM3U},
		{Name: "no creds", URL: "http://p", SourceType: models.SourceTypeXtream},
		{Name: "bad regex", URL: "http://p", IdentifierSource: models.IdentifierByStreamURLRegex, IdentifierRegex: "("},
		{Name: "bad key", URL: "http://p", IdentifierSource: models.IdentifierByMetadata, IdentifierMetadataKey: "nope"},
	}
	for _, p := range cases {
		if err := h.svc.CreatePlaylist(ctx, p); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v", p.Name, err)
		}
	}
}
