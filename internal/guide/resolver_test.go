package guide

import (
	"testing"
	"time"

	"github.com/savid/tvguide/internal/playlist"
	"github.com/savid/tvguide/internal/xmltv"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)

// stubSecondary is a canned secondary guide for tests.
type stubSecondary struct {
	program *xmltv.Program
	calls   int
}

func (s *stubSecondary) Lookup(ch playlist.Channel) (*xmltv.Program, bool) {
	s.calls++

	if s.program == nil {
		return nil, false
	}

	return s.program, true
}

func makeDocument(programs map[string][]xmltv.Program) *xmltv.Document {
	return &xmltv.Document{
		Programs:  programs,
		FetchedAt: baseTime,
	}
}

func makeProgram(channel, title string, start, stop time.Time) xmltv.Program {
	return xmltv.Program{
		Channel: channel,
		Title:   title,
		Start:   start,
		Stop:    stop,
	}
}

func TestResolve_CurrentAndNext(t *testing.T) {
	resolver := NewResolver(nil)
	resolver.SetDocument(makeDocument(map[string][]xmltv.Program{
		"bbc1.uk": {
			makeProgram("bbc1.uk", "Morning Show", baseTime.Add(-2*time.Hour), baseTime.Add(-1*time.Hour)),
			makeProgram("bbc1.uk", "Midday News", baseTime.Add(-30*time.Minute), baseTime.Add(30*time.Minute)),
			makeProgram("bbc1.uk", "Afternoon Drama", baseTime.Add(30*time.Minute), baseTime.Add(90*time.Minute)),
		},
	}))

	result := resolver.Resolve(playlist.Channel{TVGID: "bbc1.uk"}, baseTime)

	require.Equal(t, SourceGuide, result.Source)
	require.NotNil(t, result.Current)
	require.Equal(t, "Midday News", result.Current.Title)
	require.InDelta(t, 0.5, result.Progress, 0.001)
	require.NotNil(t, result.Next)
	require.Equal(t, "Afternoon Drama", result.Next.Title)
}

func TestResolve_GuideTakesPrecedenceOverSecondary(t *testing.T) {
	secondary := &stubSecondary{
		program: &xmltv.Program{Title: "Secondary Show", Start: baseTime.Add(-time.Hour), Stop: baseTime.Add(time.Hour)},
	}

	resolver := NewResolver(secondary)
	resolver.SetDocument(makeDocument(map[string][]xmltv.Program{
		"bbc1.uk": {
			makeProgram("bbc1.uk", "Guide Show", baseTime.Add(-time.Hour), baseTime.Add(time.Hour)),
		},
	}))

	result := resolver.Resolve(playlist.Channel{TVGID: "bbc1.uk"}, baseTime)

	require.Equal(t, SourceGuide, result.Source)
	require.Equal(t, "Guide Show", result.Current.Title)
	require.Zero(t, secondary.calls)
}

func TestResolve_FallsBackToSecondary(t *testing.T) {
	secondary := &stubSecondary{
		program: &xmltv.Program{Title: "Secondary Show", Start: baseTime.Add(-time.Hour), Stop: baseTime.Add(time.Hour)},
	}

	resolver := NewResolver(secondary)
	resolver.SetDocument(makeDocument(map[string][]xmltv.Program{
		"other.id": {
			makeProgram("other.id", "Unrelated", baseTime.Add(-time.Hour), baseTime.Add(time.Hour)),
		},
	}))

	t.Run("unknown tvg-id", func(t *testing.T) {
		result := resolver.Resolve(playlist.Channel{TVGID: "unknown.id"}, baseTime)

		require.Equal(t, SourceSecondary, result.Source)
		require.Equal(t, "Secondary Show", result.Current.Title)
		require.InDelta(t, 0.5, result.Progress, 0.001)
		require.Nil(t, result.Next)
	})

	t.Run("no tvg-id at all", func(t *testing.T) {
		result := resolver.Resolve(playlist.Channel{Name: "No ID"}, baseTime)
		require.Equal(t, SourceSecondary, result.Source)
	})
}

func TestResolve_NoDataAnywhere(t *testing.T) {
	resolver := NewResolver(nil)

	result := resolver.Resolve(playlist.Channel{TVGID: "unknown.id"}, baseTime)

	require.Equal(t, SourceNone, result.Source)
	require.Nil(t, result.Current)
	require.Nil(t, result.Next)
	require.Zero(t, result.Progress)
}

func TestResolve_AllProgramsInPastFallsThrough(t *testing.T) {
	secondary := &stubSecondary{
		program: &xmltv.Program{Title: "Secondary Show", Start: baseTime.Add(-time.Hour), Stop: baseTime.Add(time.Hour)},
	}

	resolver := NewResolver(secondary)
	resolver.SetDocument(makeDocument(map[string][]xmltv.Program{
		"bbc1.uk": {
			makeProgram("bbc1.uk", "Yesterday", baseTime.Add(-48*time.Hour), baseTime.Add(-47*time.Hour)),
		},
	}))

	result := resolver.Resolve(playlist.Channel{TVGID: "bbc1.uk"}, baseTime)
	require.Equal(t, SourceSecondary, result.Source)
}

func TestResolve_OverlappingProgramsLatestStartWins(t *testing.T) {
	resolver := NewResolver(nil)
	resolver.SetDocument(makeDocument(map[string][]xmltv.Program{
		"c1": {
			makeProgram("c1", "Long Block", baseTime.Add(-2*time.Hour), baseTime.Add(2*time.Hour)),
			makeProgram("c1", "Specific Show", baseTime.Add(-30*time.Minute), baseTime.Add(30*time.Minute)),
		},
	}))

	result := resolver.Resolve(playlist.Channel{TVGID: "c1"}, baseTime)

	require.Equal(t, SourceGuide, result.Source)
	require.Equal(t, "Specific Show", result.Current.Title)
}

func TestResolve_CurrentWindowIsHalfOpen(t *testing.T) {
	resolver := NewResolver(nil)
	resolver.SetDocument(makeDocument(map[string][]xmltv.Program{
		"c1": {
			makeProgram("c1", "Ending", baseTime.Add(-time.Hour), baseTime),
			makeProgram("c1", "Starting", baseTime, baseTime.Add(time.Hour)),
		},
	}))

	result := resolver.Resolve(playlist.Channel{TVGID: "c1"}, baseTime)

	// At the boundary instant the starting program owns the slot.
	require.Equal(t, "Starting", result.Current.Title)
}

func TestProgress(t *testing.T) {
	program := &xmltv.Program{
		Start: baseTime,
		Stop:  baseTime.Add(time.Hour),
	}

	require.Zero(t, Progress(program, baseTime))
	require.InDelta(t, 0.25, Progress(program, baseTime.Add(15*time.Minute)), 0.001)
	require.InDelta(t, 1.0, Progress(program, baseTime.Add(time.Hour)), 0.001)

	// Clamped outside the window.
	require.Zero(t, Progress(program, baseTime.Add(-time.Hour)))
	require.Equal(t, 1.0, Progress(program, baseTime.Add(2*time.Hour)))
}

func TestProgress_Monotonic(t *testing.T) {
	program := &xmltv.Program{
		Start: baseTime,
		Stop:  baseTime.Add(time.Hour),
	}

	previous := -1.0

	for offset := time.Duration(0); offset <= time.Hour; offset += 5 * time.Minute {
		current := Progress(program, baseTime.Add(offset))
		require.GreaterOrEqual(t, current, previous)
		previous = current
	}
}

func TestProgress_ZeroDuration(t *testing.T) {
	program := &xmltv.Program{Start: baseTime, Stop: baseTime}
	require.Zero(t, Progress(program, baseTime))
}

func TestSource_String(t *testing.T) {
	require.Equal(t, "guide", SourceGuide.String())
	require.Equal(t, "secondary", SourceSecondary.String())
	require.Equal(t, "none", SourceNone.String())
}
