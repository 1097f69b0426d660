package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/voyagen/guidevault/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// XtreamSource addresses one provider-API account.
type XtreamSource struct {
	BaseURL   string
	Username  string
	Password  string
	StreamExt string // "ts" when empty
}

// XtreamSourceFor returns the provider-API coordinates of a playlist.
func XtreamSourceFor(p *models.Playlist) XtreamSource {
	return XtreamSource{BaseURL: p.URL, Username: p.Username, Password: p.Password, StreamExt: p.StreamExt}
}

func (s XtreamSource) apiURL(action string, params url.Values) string {
	q := url.Values{}
	q.Set("username", s.Username)
	q.Set("password", s.Password)
	if action != "" {
		q.Set("action", action)
	}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return strings.TrimRight(s.BaseURL, "/") + "/player_api.php?" + q.Encode()
}

func (s XtreamSource) streamURL(streamID string) string {
	ext := strings.TrimPrefix(s.StreamExt, ".")
	if ext == "" {
		ext = "ts"
	}
	return fmt.Sprintf("%s/live/%s/%s/%s.%s", strings.TrimRight(s.BaseURL, "/"),
		url.PathEscape(s.Username), url.PathEscape(s.Password), streamID, ext)
}

// Xtream queries the provider API. Per-category listings run concurrently,
// bounded by concurrency and paced by a shared rate limiter.
type Xtream struct {
	client      *Client
	limiter     *rate.Limiter
	concurrency int
}

// NewXtream returns an Xtream over c. perSecond <= 0 disables pacing.
func NewXtream(c *Client, perSecond float64, concurrency int) *Xtream {
	lim := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Xtream{client: c, limiter: lim, concurrency: concurrency}
}

func (x *Xtream) call(ctx context.Context, src XtreamSource, action string, params url.Values) ([]byte, error) {
	if err := x.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return x.client.Fetch(ctx, src.apiURL(action, params), "xtream")
}

// Categories lists the live categories of the account.
func (x *Xtream) Categories(ctx context.Context, src XtreamSource) ([]models.CategoryHint, error) {
	body, err := x.call(ctx, src, "get_live_categories", nil)
	if err != nil {
		return nil, err
	}
	return ParseXtreamCategories(body)
}

// Streams lists the live streams of the given categories, concatenated in
// category order.
func (x *Xtream) Streams(ctx context.Context, src XtreamSource, categories []models.CategoryHint) (*Result, error) {
	lists := make([][]models.SourceRecord, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for i, cat := range categories {
		g.Go(func() error {
			body, err := x.call(gctx, src, "get_live_streams", url.Values{"category_id": {cat.ID}})
			if err != nil {
				return err
			}
			recs, err := ParseXtreamStreams(body, src, cat)
			if err != nil {
				return err
			}
			lists[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res := &Result{Categories: categories}
	for _, l := range lists {
		res.Records = append(res.Records, l...)
	}
	return res, nil
}

// flexString accepts a JSON string, number or null. Providers disagree on
// whether ids are quoted.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		*f = flexString(b)
	}
	return nil
}

type xtreamCategory struct {
	CategoryID   flexString `json:"category_id"`
	CategoryName string     `json:"category_name"`
}

type xtreamStream struct {
	Num               flexString `json:"num"`
	Name              string     `json:"name"`
	StreamID          flexString `json:"stream_id"`
	StreamIcon        string     `json:"stream_icon"`
	EpgChannelID      flexString `json:"epg_channel_id"`
	CategoryID        flexString `json:"category_id"`
	CustomSID         flexString `json:"custom_sid"`
	TvArchive         flexString `json:"tv_archive"`
	TvArchiveDuration flexString `json:"tv_archive_duration"`
}

// ParseXtreamCategories decodes a get_live_categories response.
func ParseXtreamCategories(body []byte) ([]models.CategoryHint, error) {
	var raw []xtreamCategory
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ParseError{Format: "xtream", Construct: "get_live_categories", Err: err}
	}
	var cats categorySet
	for _, c := range raw {
		cats.add(string(c.CategoryID), strings.TrimSpace(c.CategoryName))
	}
	return cats.list, nil
}

// ParseXtreamStreams decodes a get_live_streams response for one category.
func ParseXtreamStreams(body []byte, src XtreamSource, cat models.CategoryHint) ([]models.SourceRecord, error) {
	var raw []xtreamStream
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ParseError{Format: "xtream", Construct: "get_live_streams", Err: err}
	}
	recs := make([]models.SourceRecord, 0, len(raw))
	for _, s := range raw {
		id := string(s.StreamID)
		if id == "" {
			continue
		}
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = models.UnknownChannelName
		}
		attrs := map[string]string{
			"tvg-name":    name,
			"group-title": cat.Name,
			"xui-id":      id,
		}
		setAttr(attrs, "tvg-id", string(s.EpgChannelID))
		setAttr(attrs, "tvg-chno", string(s.Num))
		setAttr(attrs, "tvg-logo", s.StreamIcon)
		setAttr(attrs, "cuid", string(s.CustomSID))
		if n, _ := strconv.Atoi(string(s.TvArchive)); n > 0 {
			setAttr(attrs, "catchup", "xc")
			setAttr(attrs, "catchup-days", string(s.TvArchiveDuration))
		}
		recs = append(recs, models.SourceRecord{
			IdentityHint: id,
			DisplayName:  name,
			StreamRef:    src.streamURL(id),
			IconRef:      s.StreamIcon,
			CategoryHint: cat.Name,
			CategoryID:   cat.ID,
			Attributes:   attrs,
		})
	}
	return recs, nil
}

func setAttr(attrs map[string]string, k, v string) {
	if v = strings.TrimSpace(v); v != "" {
		attrs[k] = v
	}
}
