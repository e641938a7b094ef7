package rating

import (
	"context"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/cinemux/cinemux/internal/upstream"
)

// SourceTMDB identifies the secondary rating source.
const SourceTMDB = "tmdb"

// tmdbDefaultBaseURL is the public TMDB API endpoint.
const tmdbDefaultBaseURL = "https://api.themoviedb.org"

// TMDB resolves community ratings through the TMDB find-by-external-id
// endpoint, which accepts the same canonical ids the catalogs carry.
type TMDB struct {
	baseURL string
	apiKey  string
	fetcher *upstream.Fetcher
}

// NewTMDB builds the source. An empty baseURL selects the public API.
func NewTMDB(baseURL, apiKey string, fetcher *upstream.Fetcher) *TMDB {
	if baseURL == "" {
		baseURL = tmdbDefaultBaseURL
	}
	return &TMDB{baseURL: trimBase(baseURL), apiKey: apiKey, fetcher: fetcher}
}

// Name returns the source identifier.
func (s *TMDB) Name() string { return SourceTMDB }

// Fetch looks up the title's vote average. TMDB has no per-episode rating
// worth surfacing, so episode lookups answer nil.
func (s *TMDB) Fetch(ctx context.Context, itemID string, opts Options) (*Data, error) {
	if s.apiKey == "" || !IsIMDBID(itemID) || opts.ForEpisode() {
		return nil, nil
	}

	q := url.Values{}
	q.Set("api_key", s.apiKey)
	q.Set("external_source", "imdb_id")
	reqURL := s.baseURL + "/3/find/" + itemID + "?" + q.Encode()

	body, err := s.fetcher.Get(ctx, reqURL)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	hit := gjson.GetBytes(body, "movie_results.0")
	if !hit.Exists() {
		hit = gjson.GetBytes(body, "tv_results.0")
	}
	avg := hit.Get("vote_average")
	if !avg.Exists() || avg.Float() <= 0 {
		return nil, nil
	}

	val := avg.Float()
	return &Data{
		Source: SourceTMDB,
		Rating: &val,
		Scale:  ScaleTen,
		Votes:  hit.Get("vote_count").Int(),
	}, nil
}
