// Package rating implements the rating sources and the consolidator that
// merges their answers into a single score per catalog item. Each source is
// an HTTP client for one external rating system, layered behind an
// in-process cache, the shared cache tier, and a negative-result memo so
// that items the system does not know about are not re-queried on every
// request.
package rating

import (
	"context"
	"regexp"

	"github.com/cinemux/cinemux/pkg/errors"
)

// Source scales. Sources report which scale their raw rating uses so the
// consolidator can normalize before averaging.
const (
	ScaleTen     = 10
	ScaleHundred = 100
)

// Data is the answer from a single rating source for one item. A nil Data
// with a nil error means the source does not know the item; that is a
// legitimate answer and gets memoized, not retried.
type Data struct {
	Source        string   `json:"source"`
	Rating        *float64 `json:"rating,omitempty"`
	Scale         int      `json:"scale,omitempty"`
	Votes         int64    `json:"votes,omitempty"`
	Certification string   `json:"certification,omitempty"`
	RTScore       *int     `json:"rtScore,omitempty"`
	Metacritic    *int     `json:"metacritic,omitempty"`
	ReleaseDate   string   `json:"releaseDate,omitempty"`
	Streaming     []string `json:"streaming,omitempty"`
}

// Normalized returns the rating on the 0-10 scale, and whether one exists.
func (d *Data) Normalized() (float64, bool) {
	if d == nil || d.Rating == nil {
		return 0, false
	}
	if d.Scale == ScaleHundred {
		return *d.Rating / 10, true
	}
	return *d.Rating, true
}

// Options scope a source lookup. Season and Episode above zero select an
// episode-level rating; sources that only know whole titles answer nil for
// those. Region scopes streaming availability. OnlySource restricts the
// consolidator to a single named source, the legacy per-install mode.
type Options struct {
	Region     string
	Season     int
	Episode    int
	OnlySource string
}

// ForEpisode reports whether the lookup targets a single episode.
func (o Options) ForEpisode() bool { return o.Season > 0 && o.Episode > 0 }

// Source is one external rating system. Fetch returns (nil, nil) when the
// system has no entry for the item.
type Source interface {
	// Name returns the source identifier used in cache keys, metrics
	// labels, and per-source output maps.
	Name() string

	// Fetch looks up one item. Implementations must honor ctx and treat
	// an unknown item as (nil, nil), not an error.
	Fetch(ctx context.Context, itemID string, opts Options) (*Data, error)
}

var (
	imdbID  = regexp.MustCompile(`^tt\d+$`)
	malID   = regexp.MustCompile(`^mal:\d+$`)
	kitsuID = regexp.MustCompile(`^kitsu:\d+$`)
)

// SupportedID reports whether an item id belongs to an identifier scheme
// any source understands. Items outside these schemes skip enrichment.
func SupportedID(id string) bool {
	return imdbID.MatchString(id) || malID.MatchString(id) || kitsuID.MatchString(id)
}

// IsIMDBID reports whether the id is a canonical tt identifier.
func IsIMDBID(id string) bool { return imdbID.MatchString(id) }

// IsAnimeID reports whether the id belongs to an anime list scheme.
func IsAnimeID(id string) bool { return malID.MatchString(id) || kitsuID.MatchString(id) }

// isNotFound reports whether a fetch failure means the remote system has no
// entry for the item. Sources turn these into (nil, nil) answers.
func isNotFound(err error) bool {
	pe := errors.From(err)
	return pe.Type == errors.TypeUpstreamClient && pe.UpstreamStatus == 404
}
