package rating

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/cinemux/cinemux/internal/upstream"
)

// SourceIMDB identifies the primary rating source.
const SourceIMDB = "imdb"

// IMDB is the primary title-rating source, backed by the self-hosted
// ratings service that mirrors the IMDb datasets. It is the only source
// that answers episode-level lookups.
type IMDB struct {
	baseURL string
	fetcher *upstream.Fetcher
}

// NewIMDB builds the source against a ratings service base URL.
func NewIMDB(baseURL string, fetcher *upstream.Fetcher) *IMDB {
	return &IMDB{baseURL: trimBase(baseURL), fetcher: fetcher}
}

// Name returns the source identifier.
func (s *IMDB) Name() string { return SourceIMDB }

// Fetch resolves a title rating, or an episode rating when the options
// carry season and episode coordinates. An unconfigured source answers
// nothing rather than erroring.
func (s *IMDB) Fetch(ctx context.Context, itemID string, opts Options) (*Data, error) {
	if s.baseURL == "" || !IsIMDBID(itemID) {
		return nil, nil
	}

	url := s.baseURL + "/api/rating/" + itemID
	if opts.ForEpisode() {
		url = fmt.Sprintf("%s/api/rating/%s/season/%d/episode/%d",
			s.baseURL, itemID, opts.Season, opts.Episode)
	}

	body, err := s.fetcher.Get(ctx, url)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	rating := gjson.GetBytes(body, "rating")
	if !rating.Exists() || rating.Float() <= 0 {
		return nil, nil
	}

	val := rating.Float()
	return &Data{
		Source: SourceIMDB,
		Rating: &val,
		Scale:  ScaleTen,
		Votes:  gjson.GetBytes(body, "votes").Int(),
	}, nil
}

// trimBase strips a trailing slash so joined paths stay canonical.
func trimBase(baseURL string) string {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return baseURL
}
