// Package playlist provides parsing for M3U channel playlists.
package playlist

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
)

var (
	// ErrEmpty is returned when the playlist contains no content at all.
	ErrEmpty = errors.New("playlist is empty")
	// ErrMissingHeader is returned in strict mode when the #EXTM3U header is absent.
	ErrMissingHeader = errors.New("invalid M3U format: missing #EXTM3U header")
)

const (
	headerPrefix = "#EXTM3U"
	entryPrefix  = "#EXTINF:"

	// DefaultCategory is assigned to channels without a group-title attribute.
	DefaultCategory = "Uncategorized"

	idPrefix = "m3u"
)

// Channel represents a single channel entry in an M3U playlist.
type Channel struct {
	// Num is the 1-based position of the channel in the playlist.
	Num int
	// ID is a synthesized identifier, unique within one parse pass.
	ID   string
	Name string
	// TVGID is the external guide identifier joining this channel to EPG data.
	// Empty when the playlist carries no tvg-id attribute.
	TVGID string
	Logo  string
	Group string
	URL   string
	// Kind is always "live" for playlist entries.
	Kind string
}

// Playlist holds the parsed channels plus the guide source URL advertised
// by the playlist header, if any.
type Playlist struct {
	Channels []Channel
	// GuideURL is the x-tvg-url attribute from the #EXTM3U header, or empty.
	GuideURL string
}

// Parse extracts channels from M3U playlist data. It is lenient: a missing
// header is tolerated and unparseable lines are skipped.
func Parse(data []byte) (*Playlist, error) {
	return parse(data, false)
}

// ParseStrict is like Parse but fails with ErrMissingHeader when the
// playlist does not start with #EXTM3U.
func ParseStrict(data []byte) (*Playlist, error) {
	return parse(data, true)
}

// ParseFile reads and parses a playlist from a local file.
func ParseFile(path string) (*Playlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist file: %w", err)
	}

	return Parse(data)
}

// ParseURL fetches and parses a playlist from a remote URL.
func ParseURL(ctx context.Context, client *http.Client, url string) (*Playlist, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code fetching playlist: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist body: %w", err)
	}

	return Parse(data)
}

func parse(data []byte, strict bool) (*Playlist, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmpty
	}

	if strict && !strings.HasPrefix(strings.TrimSpace(string(data)), headerPrefix) {
		return nil, ErrMissingHeader
	}

	result := &Playlist{
		Channels: make([]Channel, 0, 100),
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pending *Channel

	flush := func(url string) {
		pending.Num = len(result.Channels) + 1
		pending.ID = fmt.Sprintf("%s_%d", idPrefix, len(result.Channels))
		pending.URL = url
		result.Channels = append(result.Channels, *pending)
		pending = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		if strings.HasPrefix(line, headerPrefix) {
			if guideURL := extractAttribute(line, "x-tvg-url"); guideURL != "" {
				result.GuideURL = guideURL
			}

			continue
		}

		if strings.HasPrefix(line, entryPrefix) {
			// Back-to-back #EXTINF lines: the previous entry keeps an
			// empty URL rather than aborting the parse.
			if pending != nil {
				flush("")
			}

			pending = &Channel{
				Name:  extractName(line),
				TVGID: extractAttribute(line, "tvg-id"),
				Logo:  extractAttribute(line, "tvg-logo"),
				Group: extractAttribute(line, "group-title"),
				Kind:  "live",
			}

			if pending.Group == "" {
				pending.Group = DefaultCategory
			}
		} else if !strings.HasPrefix(line, "#") && pending != nil {
			flush(line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning playlist data: %w", err)
	}

	if pending != nil {
		flush("")
	}

	return result, nil
}

// extractName returns the display name from an #EXTINF line. The name is
// everything after the last comma, so names containing commas inside
// quoted attributes are not truncated.
func extractName(line string) string {
	if idx := strings.LastIndex(line, ","); idx >= 0 {
		return strings.TrimSpace(line[idx+1:])
	}

	return ""
}

var unquotedEnd = regexp.MustCompile(`[ ,]`)

// extractAttribute returns the value of a key="value" or key=value
// attribute, or an empty string when the key is absent.
func extractAttribute(line, attr string) string {
	quoted := regexp.MustCompile(regexp.QuoteMeta(attr) + `="([^"]*)"`)
	if matches := quoted.FindStringSubmatch(line); len(matches) > 1 {
		return matches[1]
	}

	// Unquoted form: value runs until the next space or comma.
	marker := attr + "="
	idx := strings.Index(line, marker)

	if idx < 0 {
		return ""
	}

	rest := line[idx+len(marker):]
	if end := unquotedEnd.FindStringIndex(rest); end != nil {
		return strings.TrimSpace(rest[:end[0]])
	}

	return strings.TrimSpace(rest)
}

// Categories returns the deduplicated category labels from channels,
// preserving first-seen order.
func Categories(channels []Channel) []string {
	seen := make(map[string]bool, len(channels))
	categories := make([]string, 0, len(channels))

	for _, ch := range channels {
		if ch.Group == "" || seen[ch.Group] {
			continue
		}

		seen[ch.Group] = true
		categories = append(categories, ch.Group)
	}

	return categories
}
