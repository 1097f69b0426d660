package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/sortorder"
)

// testPostgres migrates POSTGRES_TEST_URL and connects, or skips.
func testPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_URL")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	abs, err := filepath.Abs("../../migrations")
	if err != nil {
		t.Fatal(err)
	}
	if err := RunMigrations(dsn, "file://"+abs); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	p, err := NewPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)
	return p
}

func strPtr(s string) *string { return &s }

func testPlaylist(t *testing.T, p *Postgres) *models.Playlist {
	t.Helper()
	pl := &models.Playlist{
		Name:       fmt.Sprintf("test-%d", time.Now().UnixNano()),
		URL:        "http://example.test/list.m3u",
		SourceType: models.SourceTypeM3U,
		Enabled:    true,
	}
	if err := p.CreatePlaylist(context.Background(), pl); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.DeletePlaylist(context.Background(), pl.ID) })
	return pl
}

func TestDecodeAttrs(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(&buf))
	t.Cleanup(func() { logging.SetLogger(prev) })

	if got := decodeAttrs(1, []byte(`{"tvg-id":"a"}`)); got["tvg-id"] != "a" {
		t.Errorf("attrs = %v", got)
	}
	if got := decodeAttrs(2, nil); got != nil {
		t.Errorf("empty blob = %v", got)
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected log: %s", buf.String())
	}

	if got := decodeAttrs(42, []byte(`{"tvg-id":`)); got != nil {
		t.Errorf("malformed blob = %v", got)
	}
	if out := buf.String(); !strings.Contains(out, `"channel_id":42`) || !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("log = %s", out)
	}
}

func TestAttrsJSON(t *testing.T) {
	if got := string(attrsJSON(nil)); got != "{}" {
		t.Errorf("nil attrs = %s", got)
	}
	if got := string(attrsJSON(map[string]string{"tvg-id": "a"})); got != `{"tvg-id":"a"}` {
		t.Errorf("attrs = %s", got)
	}
	if got := string(stringList(nil)); got != "[]" {
		t.Errorf("nil list = %s", got)
	}
}

func TestPlaylistSyncRoundTrip(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	pl := testPlaylist(t, p)

	news := strPtr("news")
	err := p.ApplyPlaylistSync(ctx, &PlaylistSync{
		PlaylistID: pl.ID,
		Categories: []models.Category{{CategoryID: "news", CategoryName: "News", IsSelected: true}},
		Added: []models.Channel{
			{StreamID: "1", Name: "BBC One", StreamURL: "http://x/1", CategoryID: news, CategoryName: strPtr("News"),
				SortOrder: 2, Attributes: map[string]string{"tvg-id": "bbc1"}, IsOperational: true},
			{StreamID: "2", Name: "CNN", StreamURL: "http://x/2", CategoryID: news, SortOrder: 1, IsOperational: true,
				Mapping: &models.ChannelMapping{Name: "CNN Intl"}},
		},
		GuideURL: strPtr("http://x/guide.xml"),
	})
	if err != nil {
		t.Fatal(err)
	}

	channels, err := p.ListChannels(ctx, pl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(channels) != 2 || channels[0].Name != "CNN" {
		t.Fatalf("channels = %+v", channels)
	}
	if channels[0].Mapping == nil || channels[0].Mapping.Name != "CNN Intl" {
		t.Errorf("mapping = %+v", channels[0].Mapping)
	}
	if channels[1].Attributes["tvg-id"] != "bbc1" {
		t.Errorf("attributes = %v", channels[1].Attributes)
	}

	got, err := p.GetPlaylist(ctx, pl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.GuideURL == nil || *got.GuideURL != "http://x/guide.xml" || got.LastUpdated == nil {
		t.Errorf("playlist = %+v", got)
	}

	if err := p.ApplySortOrder(ctx, pl.ID, []sortorder.Update{{ChannelID: channels[1].ID, SortOrder: 0}}, nil); err != nil {
		t.Fatal(err)
	}
	if err := p.RenameCategory(ctx, pl.ID, "news", "World News"); err != nil {
		t.Fatal(err)
	}
	channels, _ = p.ListChannels(ctx, pl.ID)
	if channels[0].Name != "BBC One" || *channels[0].CategoryName != "World News" {
		t.Errorf("after reorder and rename = %+v", channels[0])
	}
	if err := p.RenameCategory(ctx, pl.ID, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rename missing = %v", err)
	}
}

func TestTerminalJobRejectsUpdates(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	pl := testPlaylist(t, p)

	j := &models.SyncJob{TargetKind: models.TargetPlaylist, TargetID: pl.ID, Status: models.JobPending}
	if err := p.CreateSyncJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	target := models.Target{Kind: models.TargetPlaylist, ID: pl.ID}
	active, err := p.ListActiveJobs(ctx, target)
	if err != nil || len(active) != 1 || active[0].ID != j.ID {
		t.Fatalf("active = %+v, %v", active, err)
	}

	if err := p.FailJob(ctx, models.JobRef{ID: j.ID, Type: models.JobTypeSync}, "stuck"); err != nil {
		t.Fatal(err)
	}
	j.Status = models.JobImporting
	if err := p.UpdateSyncJob(ctx, j); !errors.Is(err, models.ErrJobFinished) {
		t.Errorf("update after fail = %v", err)
	}
	stored, err := p.GetSyncJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.JobFailed || stored.FinishedAt == nil {
		t.Errorf("stored = %+v", stored)
	}
	if _, err := p.GetSyncJob(ctx, -1); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing job = %v", err)
	}
}

func TestEpgSyncReplacesChannels(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	f := &models.EpgFile{Name: fmt.Sprintf("guide-%d", time.Now().UnixNano()), URL: "http://x/guide.xml"}
	if err := p.CreateEpgFile(ctx, f); err != nil {
		t.Fatal(err)
	}
	first := []models.EpgChannel{{ChannelID: "b", Name: "B"}, {ChannelID: "a", Name: "A"}}
	if err := p.ApplyEpgSync(ctx, f.ID, first, 10); err != nil {
		t.Fatal(err)
	}
	if err := p.ApplyEpgSync(ctx, f.ID, first[:1], 3); err != nil {
		t.Fatal(err)
	}
	got, err := p.ListEpgChannels(ctx, f.ID)
	if err != nil || len(got) != 1 || got[0].ChannelID != "b" {
		t.Fatalf("channels = %+v, %v", got, err)
	}
	file, _ := p.GetEpgFile(ctx, f.ID)
	if file.ChannelCount != 1 || file.ProgrammeCount != 3 {
		t.Errorf("file = %+v", file)
	}

	g := &models.EpgGroup{Name: f.Name + "-group", FileIDs: []int64{f.ID}}
	if err := p.CreateEpgGroup(ctx, g); err != nil {
		t.Fatal(err)
	}
	gg, err := p.GetEpgGroup(ctx, g.ID)
	if err != nil || len(gg.FileIDs) != 1 || gg.FileIDs[0] != f.ID {
		t.Errorf("group = %+v, %v", gg, err)
	}
}
