// Package guide resolves current/next program information for playlist
// channels from a refreshable XMLTV document, with a secondary guide
// fallback.
package guide

import (
	"sync"
	"time"

	"github.com/savid/tvguide/internal/playlist"
	"github.com/savid/tvguide/internal/xmltv"
)

// SecondaryGuide is the fallback program lookup capability, supplied by the
// subscription-API collaborator. It is consulted only when the external
// guide has no data for a channel.
type SecondaryGuide interface {
	Lookup(ch playlist.Channel) (*xmltv.Program, bool)
}

// Source identifies which guide answered a resolution query.
type Source int

const (
	// SourceNone means no guide had data for the channel.
	SourceNone Source = iota
	// SourceGuide means the external XMLTV guide answered.
	SourceGuide
	// SourceSecondary means the fallback capability answered.
	SourceSecondary
)

// String returns a human-readable source name.
func (s Source) String() string {
	switch s {
	case SourceGuide:
		return "guide"
	case SourceSecondary:
		return "secondary"
	default:
		return "none"
	}
}

// Result is the outcome of one resolution query.
type Result struct {
	// Current is the program airing at the query instant, or nil.
	Current *xmltv.Program
	// Progress is the fraction of Current elapsed, in [0,1]. Zero when
	// Current is nil.
	Progress float64
	// Next is the soonest program starting after the query instant, or nil.
	Next *xmltv.Program
	// Source indicates which guide produced the result.
	Source Source
}

// Resolver answers point-in-time program queries against the latest guide
// document. The document reference is replaced wholesale on refresh and
// never mutated, so the read path only takes a reference under RLock.
type Resolver struct {
	mu        sync.RWMutex
	doc       *xmltv.Document
	secondary SecondaryGuide
}

// NewResolver creates a resolver. The secondary guide may be nil when no
// fallback source is configured.
func NewResolver(secondary SecondaryGuide) *Resolver {
	return &Resolver{
		secondary: secondary,
	}
}

// SetDocument atomically replaces the guide document. A nil document clears
// guide data, leaving only the secondary fallback.
func (r *Resolver) SetDocument(doc *xmltv.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.doc = doc
}

// Document returns the current guide document, which may be nil.
func (r *Resolver) Document() *xmltv.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.doc
}

// Resolve returns the current and next program for a channel at the given
// instant. The external guide takes fixed priority over the secondary guide;
// absence of data is a normal result, never an error.
func (r *Resolver) Resolve(ch playlist.Channel, now time.Time) Result {
	if ch.TVGID != "" {
		if programs := r.Document().ProgramsFor(ch.TVGID); len(programs) > 0 {
			if result, ok := resolvePrograms(programs, now); ok {
				return result
			}
		}
	}

	if r.secondary != nil {
		if program, ok := r.secondary.Lookup(ch); ok && program != nil {
			return Result{
				Current:  program,
				Progress: Progress(program, now),
				Source:   SourceSecondary,
			}
		}
	}

	return Result{Source: SourceNone}
}

// resolvePrograms scans an ordered program list for the entry airing now and
// the soonest entry starting later. When schedule data overlaps and several
// entries contain now, the one with the latest start wins.
func resolvePrograms(programs []xmltv.Program, now time.Time) (Result, bool) {
	var current, next *xmltv.Program

	for i := range programs {
		p := &programs[i]

		if !p.Start.After(now) && now.Before(p.Stop) {
			if current == nil || p.Start.After(current.Start) {
				current = p
			}
		}

		if p.Start.After(now) && (next == nil || p.Start.Before(next.Start)) {
			next = p
		}
	}

	if current == nil && next == nil {
		return Result{}, false
	}

	result := Result{
		Current: current,
		Next:    next,
		Source:  SourceGuide,
	}

	if current != nil {
		result.Progress = Progress(current, now)
	}

	return result, true
}

// Progress returns the elapsed fraction of a program at the given instant,
// clamped to [0,1]. A zero-duration program yields 0.
func Progress(p *xmltv.Program, now time.Time) float64 {
	duration := p.Stop.Sub(p.Start)
	if duration <= 0 {
		return 0
	}

	progress := float64(now.Sub(p.Start)) / float64(duration)

	if progress < 0 {
		return 0
	}

	if progress > 1 {
		return 1
	}

	return progress
}
