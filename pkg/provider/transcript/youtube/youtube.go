// Package youtube provides a caption source backed by YouTube's timedtext
// API. It implements the transcript.Provider interface.
//
// Two endpoints are involved: a track-list call that enumerates the caption
// languages a video carries, and a per-track call that returns the captions
// themselves in the json3 event format.
package youtube

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/omniglot-dev/dubbler/pkg/provider/transcript"
)

const (
	timedtextEndpoint = "https://www.youtube.com/api/timedtext"
	defaultTimeout    = 15 * time.Second
)

// Option is a functional option for configuring the YouTube Provider.
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client, e.g. to route through a proxy.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithEndpoint overrides the timedtext endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements transcript.Provider backed by YouTube timedtext.
type Provider struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a new YouTube Provider. The endpoint needs no API key.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		endpoint:   timedtextEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Fetch implements transcript.Provider.
func (p *Provider) Fetch(ctx context.Context, videoID string, preferred []string) ([]transcript.RawEntry, string, error) {
	if videoID == "" {
		return nil, "", fmt.Errorf("youtube: videoID must not be empty")
	}

	langs, err := p.listLanguages(ctx, videoID)
	if err != nil {
		return nil, "", err
	}
	if len(langs) == 0 {
		return nil, "", fmt.Errorf("youtube: video %s: %w", videoID, transcript.ErrNotAvailable)
	}

	lang := pickLanguage(langs, preferred)
	entries, err := p.fetchTrack(ctx, videoID, lang)
	if err != nil {
		return nil, "", err
	}
	return entries, lang, nil
}

// listLanguages enumerates the caption language codes available for videoID.
func (p *Provider) listLanguages(ctx context.Context, videoID string) ([]string, error) {
	q := url.Values{"type": {"list"}, "v": {videoID}}
	body, err := p.get(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("youtube: list tracks for %s: %w", videoID, err)
	}
	langs, err := parseTrackList(body)
	if err != nil {
		return nil, fmt.Errorf("youtube: parse track list for %s: %w", videoID, err)
	}
	return langs, nil
}

// fetchTrack downloads one caption track in the json3 event format.
func (p *Provider) fetchTrack(ctx context.Context, videoID, lang string) ([]transcript.RawEntry, error) {
	q := url.Values{"v": {videoID}, "lang": {lang}, "fmt": {"json3"}}
	body, err := p.get(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("youtube: fetch %s track for %s: %w", lang, videoID, err)
	}
	entries, err := parseJSON3(body)
	if err != nil {
		return nil, fmt.Errorf("youtube: parse %s track for %s: %w", lang, videoID, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("youtube: empty %s track for %s: %w", lang, videoID, transcript.ErrNotAvailable)
	}
	return entries, nil
}

func (p *Provider) get(ctx context.Context, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ---- response parsing ----

// trackList mirrors the XML returned by the type=list call.
type trackList struct {
	Tracks []struct {
		LangCode string `xml:"lang_code,attr"`
	} `xml:"track"`
}

// parseTrackList extracts the caption language codes from the track-list XML,
// preserving the order the service returned them in.
func parseTrackList(data []byte) ([]string, error) {
	var tl trackList
	if err := xml.Unmarshal(data, &tl); err != nil {
		return nil, err
	}
	langs := make([]string, 0, len(tl.Tracks))
	for _, t := range tl.Tracks {
		if t.LangCode != "" {
			langs = append(langs, t.LangCode)
		}
	}
	return langs, nil
}

// json3Body mirrors the json3 caption format. Events without segs are window
// styling markers and carry no text.
type json3Body struct {
	Events []struct {
		StartMs    int64 `json:"tStartMs"`
		DurationMs int64 `json:"dDurationMs"`
		Segs       []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// parseJSON3 converts a json3 caption document into raw entries, dropping
// styling-only events and entries whose text is blank.
func parseJSON3(data []byte) ([]transcript.RawEntry, error) {
	var body json3Body
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	entries := make([]transcript.RawEntry, 0, len(body.Events))
	for _, ev := range body.Events {
		if len(ev.Segs) == 0 {
			continue
		}
		var b strings.Builder
		for _, seg := range ev.Segs {
			b.WriteString(seg.UTF8)
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			continue
		}
		entries = append(entries, transcript.RawEntry{
			Text:     text,
			Start:    float64(ev.StartMs) / 1000,
			Duration: float64(ev.DurationMs) / 1000,
		})
	}
	return entries, nil
}

// pickLanguage selects the track to fetch: the first preferred code the video
// has, matched on the primary subtag ("en" matches "en-GB"), else the first
// available track.
func pickLanguage(available, preferred []string) string {
	for _, want := range preferred {
		for _, have := range available {
			if langMatches(have, want) {
				return have
			}
		}
	}
	return available[0]
}

// langMatches reports whether the track code have satisfies the request want,
// comparing primary subtags case-insensitively.
func langMatches(have, want string) bool {
	base := func(code string) string {
		code = strings.ToLower(code)
		if i := strings.IndexAny(code, "-_"); i >= 0 {
			return code[:i]
		}
		return code
	}
	return base(have) == base(want)
}

// Ensure Provider implements transcript.Provider at compile time.
var _ transcript.Provider = (*Provider)(nil)
