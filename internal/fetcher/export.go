package fetcher

import (
	"bufio"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/voyagen/guidevault/internal/identity"
	"github.com/voyagen/guidevault/internal/models"
)

// WriteM3U writes channels as a flat listing that ParseM3U reads back into
// the same records (stream ids aside, which are positional).
func WriteM3U(w io.Writer, channels []models.Channel, guideURL string) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("#EXTM3U")
	if guideURL != "" {
		bw.WriteString(` url-tvg="` + attrValue(guideURL) + `"`)
	}
	bw.WriteString("\n")
	for i := range channels {
		r := channels[i].Record()
		attrs := make(map[string]string, len(r.Attributes)+2)
		var opts []string
		for k, v := range r.Attributes {
			if _, ok := vlcOpts[k]; ok {
				opts = append(opts, k)
				continue
			}
			attrs[k] = v
		}
		if r.IconRef != "" && attrs["tvg-logo"] == "" {
			attrs["tvg-logo"] = r.IconRef
		}
		if _, ok := attrs["group-title"]; !ok && r.CategoryHint != "" {
			attrs["group-title"] = r.CategoryHint
		}
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		bw.WriteString("#EXTINF:-1")
		for _, k := range keys {
			bw.WriteString(" " + k + `="` + attrValue(attrs[k]) + `"`)
		}
		bw.WriteString("," + strings.ReplaceAll(r.DisplayName, "\n", " ") + "\n")
		if r.CategoryHint != "" && r.CategoryHint != attrs["group-title"] {
			bw.WriteString("#EXTGRP:" + r.CategoryHint + "\n")
		}
		sort.Strings(opts)
		for _, k := range opts {
			bw.WriteString("#EXTVLCOPT:" + k + "=" + r.Attributes[k] + "\n")
		}
		bw.WriteString(r.StreamRef + "\n")
	}
	return bw.Flush()
}

// ExportEntries converts channels to the JSON import format. Identifier is
// the key s resolves for each channel.
func ExportEntries(channels []models.Channel, s identity.Strategy) []models.MappingEntry {
	out := make([]models.MappingEntry, 0, len(channels))
	for i := range channels {
		c := &channels[i]
		r := c.Record()
		out = append(out, models.MappingEntry{
			Identifier: s.ChannelKey(c),
			Name:       r.DisplayName,
			URL:        r.StreamRef,
			StreamID:   r.IdentityHint,
			Group:      r.CategoryHint,
			Logo:       r.IconRef,
			Attributes: r.Attributes,
			Mapping:    c.Mapping,
		})
	}
	return out
}

// WriteJSON writes ExportEntries(channels, s) as an indented JSON array.
func WriteJSON(w io.Writer, channels []models.Channel, s identity.Strategy) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ExportEntries(channels, s))
}

// ParseEntries decodes a JSON channel array as written by WriteJSON.
func ParseEntries(data []byte) ([]models.MappingEntry, error) {
	var entries []models.MappingEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &ParseError{Format: "json", Construct: "channel array", Err: err}
	}
	return entries, nil
}

func attrValue(v string) string {
	return strings.NewReplacer(`"`, "'", "\n", " ", "\r", "").Replace(v)
}
