package mapping

import (
	"testing"

	"github.com/voyagen/guidevault/internal/diff"
	"github.com/voyagen/guidevault/internal/identity"
	"github.com/voyagen/guidevault/internal/models"
)


func TestCarryForwardManualFlagsWin(t *testing.T) {
	old := models.Channel{
		ID: 7, PlaylistID: 1, Name: "CNN", SortOrder: 1003,
		IsOperational: false, IsOperationalManual: true,
		HasArchive: true, HasArchiveManual: true,
		Mapping: &models.ChannelMapping{Name: "CNN Intl", Logo: "cnn.png"},
	}
	rec := models.SourceRecord{DisplayName: "CNN", StreamRef: "http://new/cnn", Attributes: map[string]string{"catchup-days": "0"}}
	rows := CarryForward([]diff.Pair[models.Channel, models.SourceRecord]{{Old: old, New: rec}})
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	got := rows[0]
	if got.ID != 7 || got.SortOrder != 1003 || got.StreamURL != "http://new/cnn" {
		t.Fatalf("row = %+v", got)
	}
	if got.IsOperational || !got.IsOperationalManual {
		t.Errorf("manual operational override lost: %+v", got)
	}
	if !got.HasArchive || !got.HasArchiveManual {
		t.Errorf("manual archive override lost: %+v", got)
	}
	if got.Mapping == nil || got.Mapping.Name != "CNN Intl" {
		t.Errorf("mapping lost: %+v", got.Mapping)
	}
}

func TestCarryForwardSourceWinsWithoutFlags(t *testing.T) {
	old := models.Channel{ID: 3, IsOperational: false, HasArchive: false}
	rec := models.SourceRecord{DisplayName: "A", Attributes: map[string]string{"catchup-days": "3"}}
	got := CarryForward([]diff.Pair[models.Channel, models.SourceRecord]{{Old: old, New: rec}})[0]
	if !got.IsOperational || !got.HasArchive || got.Mapping != nil {
		t.Fatalf("row = %+v", got)
	}
}

func TestNewChannelCategory(t *testing.T) {
	ch := NewChannel(5, &models.SourceRecord{DisplayName: "A", CategoryHint: "News"})
	if ch.CategoryID == nil || *ch.CategoryID != "News" || *ch.CategoryName != "News" || ch.PlaylistID != 5 {
		t.Fatalf("channel = %+v", ch)
	}
	ch = NewChannel(5, &models.SourceRecord{DisplayName: "B", CategoryHint: "Sport", CategoryID: "12"})
	if *ch.CategoryID != "12" || *ch.CategoryName != "Sport" {
		t.Fatalf("channel = %+v", ch)
	}
	if ch := NewChannel(5, &models.SourceRecord{DisplayName: "C"}); ch.CategoryID != nil || ch.StreamIcon != nil {
		t.Fatalf("channel = %+v", ch)
	}
}

func TestCopyMappingsAcrossStrategies(t *testing.T) {
	source := []models.Channel{
		{ID: 1, Name: "BBC One", Attributes: map[string]string{"tvg-id": "bbc1"}, Mapping: &models.ChannelMapping{Name: "BBC One"}},
		{ID: 2, Name: "ITV", Attributes: map[string]string{"tvg-id": "itv"}, Mapping: &models.ChannelMapping{Name: "ITV"}},
		{ID: 3, Name: "No mapping", Attributes: map[string]string{"tvg-id": "none"}},
	}
	target := []models.Channel{
		{ID: 10, Name: "BBC One HD", Attributes: map[string]string{"tvg-id": "bbc1"}},
		{ID: 11, Name: "Sky News", Attributes: map[string]string{"tvg-id": "sky"}},
	}
	s, err := identity.ByMetadata("tvg-id")
	if err != nil {
		t.Fatal(err)
	}
	res := CopyMappings(source, s, target, s)
	if res.Mapped != 1 || len(res.Updates) != 1 || res.Updates[0].ChannelID != 10 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.NotFound) != 1 || res.NotFound[0] != "ITV" {
		t.Fatalf("not found = %v", res.NotFound)
	}
	if len(res.Unmatched) != 1 || res.Unmatched[0] != "Sky News" {
		t.Fatalf("unmatched = %v", res.Unmatched)
	}
	// The copied mapping must not alias the source value.
	res.Updates[0].Mapping.Name = "changed"
	if source[0].Mapping.Name != "BBC One" {
		t.Fatal("source mapping mutated")
	}
}

func TestImportEntriesUnknownIdentity(t *testing.T) {
	target := []models.Channel{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}
	entries := []models.MappingEntry{
		{Name: "A", Mapping: &models.ChannelMapping{Name: "A guide"}},
		{Name: "Ghost", Mapping: &models.ChannelMapping{Name: "Ghost guide"}},
		{Identifier: "B"},
	}
	res := ImportEntries(entries, target, identity.ByName())
	if res.Mapped != 1 || res.Updates[0].ChannelID != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.NotFound) != 1 || res.NotFound[0] != "Ghost" {
		t.Fatalf("not found = %v", res.NotFound)
	}
	if len(res.Unmatched) != 0 {
		t.Fatalf("unmatched = %v", res.Unmatched)
	}
}

func TestMergeLineup(t *testing.T) {
	fileA := []models.EpgChannel{
		{EpgFileID: 1, ChannelID: "a1", Name: "Alpha"},
		{EpgFileID: 1, ChannelID: "a2", Name: "Beta", Group: "News"},
	}
	fileB := []models.EpgChannel{
		{EpgFileID: 2, ChannelID: "b1", Name: "Beta", Group: "Other"},
		{EpgFileID: 2, ChannelID: "b2", Name: "Gamma", Group: "Sport"},
	}
	got := MergeLineup(fileA, fileB)
	var names []string
	for _, e := range got {
		names = append(names, e.Name)
	}
	want := []string{"Beta", "Gamma", "Alpha"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
	if got[0].EpgFileID != 1 || *got[0].TvgID != "a2" {
		t.Errorf("first-seen entry should win: %+v", got[0])
	}
	if *got[2].ExtGrp != models.CatchAllCategory {
		t.Errorf("ext grp = %q", *got[2].ExtGrp)
	}
}
