package rating

import (
	"context"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/cinemux/cinemux/internal/cache"
	"github.com/cinemux/cinemux/internal/upstream"
)

// SourceMDBList identifies the aggregated-metadata source.
const SourceMDBList = "mdblist"

// mdblistDefaultBaseURL is the public MDBList API endpoint.
const mdblistDefaultBaseURL = "https://api.mdblist.com"

// MDBList is the aggregated source: besides its own 0-100 score it carries
// the Rotten Tomatoes and Metacritic numbers, the certification, the
// release date, and the streaming services for a region. The enricher
// mines those for the description parts line.
type MDBList struct {
	baseURL string
	apiKey  string
	fetcher *upstream.Fetcher
}

// NewMDBList builds the source. An empty baseURL selects the public API.
func NewMDBList(baseURL, apiKey string, fetcher *upstream.Fetcher) *MDBList {
	if baseURL == "" {
		baseURL = mdblistDefaultBaseURL
	}
	return &MDBList{baseURL: trimBase(baseURL), apiKey: apiKey, fetcher: fetcher}
}

// Name returns the source identifier.
func (s *MDBList) Name() string { return SourceMDBList }

// cacheKey scopes entries by region because the streaming list differs per
// country. The data kind marks the payload as more than a bare rating.
func (s *MDBList) cacheKey(keys *cache.KeyBuilder, itemID string, opts Options) string {
	return keys.SourceData(SourceMDBList, itemID, opts.Region)
}

// Fetch retrieves the aggregated record for a title. Episode lookups
// answer nil; MDBList only tracks whole titles.
func (s *MDBList) Fetch(ctx context.Context, itemID string, opts Options) (*Data, error) {
	if s.apiKey == "" || !IsIMDBID(itemID) || opts.ForEpisode() {
		return nil, nil
	}

	q := url.Values{}
	q.Set("apikey", s.apiKey)
	if opts.Region != "" {
		q.Set("region", opts.Region)
	}
	reqURL := s.baseURL + "/imdb/" + itemID + "?" + q.Encode()

	body, err := s.fetcher.Get(ctx, reqURL)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	d := &Data{Source: SourceMDBList, Scale: ScaleHundred}

	if score := gjson.GetBytes(body, "score"); score.Exists() && score.Float() > 0 {
		val := score.Float()
		d.Rating = &val
	}
	d.Certification = gjson.GetBytes(body, "certification").String()
	d.ReleaseDate = gjson.GetBytes(body, "released").String()

	gjson.GetBytes(body, "ratings").ForEach(func(_, r gjson.Result) bool {
		val := r.Get("value")
		if !val.Exists() || val.Float() <= 0 {
			return true
		}
		switch r.Get("source").String() {
		case "tomatoes":
			n := int(val.Int())
			d.RTScore = &n
		case "metacritic":
			n := int(val.Int())
			d.Metacritic = &n
		}
		return true
	})

	gjson.GetBytes(body, "streams").ForEach(func(_, stream gjson.Result) bool {
		if name := stream.Get("name").String(); name != "" {
			d.Streaming = append(d.Streaming, name)
		}
		return true
	})

	if d.Rating == nil && d.Certification == "" && d.RTScore == nil &&
		d.Metacritic == nil && d.ReleaseDate == "" && len(d.Streaming) == 0 {
		return nil, nil
	}
	return d, nil
}
