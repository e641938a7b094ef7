package rating

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/cinemux/cinemux/internal/httputil"
	"github.com/cinemux/cinemux/pkg/errors"
)

// SourceAniList identifies the anime-list rating source.
const SourceAniList = "anilist"

// anilistDefaultEndpoint is the public AniList GraphQL endpoint.
const anilistDefaultEndpoint = "https://graphql.anilist.co"

const anilistTimeout = 8 * time.Second

// anilistQuery resolves a media entry by its MyAnimeList id, which is the
// external id anime catalogs carry.
const anilistQuery = `query ($idMal: Int) { Media(idMal: $idMal, type: ANIME) { averageScore popularity } }`

// AniList resolves anime ratings over the AniList GraphQL API. Unlike the
// other sources it speaks POST, so it carries its own HTTP client instead
// of the shared GET fetcher.
type AniList struct {
	endpoint string
	client   *http.Client
}

// NewAniList builds the source. An empty endpoint selects the public API.
func NewAniList(endpoint string) *AniList {
	if endpoint == "" {
		endpoint = anilistDefaultEndpoint
	}
	return &AniList{
		endpoint: endpoint,
		client:   &http.Client{Timeout: anilistTimeout},
	}
}

// Name returns the source identifier.
func (s *AniList) Name() string { return SourceAniList }

// Fetch resolves the average score for a mal-scheme id. Other schemes and
// episode lookups answer nil.
func (s *AniList) Fetch(ctx context.Context, itemID string, opts Options) (*Data, error) {
	malID, ok := parseMALID(itemID)
	if !ok || opts.ForEpisode() {
		return nil, nil
	}

	payload, err := json.Marshal(map[string]any{
		"query":     anilistQuery,
		"variables": map[string]any{"idMal": malID},
	})
	if err != nil {
		return nil, errors.NewInternalError("encode anilist query: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.NewInternalError("build anilist request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.NewProviderUnavailableError(SourceAniList, err.Error())
	}
	defer resp.Body.Close()

	// AniList answers 404 with a GraphQL errors array when the id is
	// unknown; that is a negative, not a failure.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.FromUpstreamStatus(SourceAniList, resp.StatusCode, "anilist query failed")
	}

	body, err := httputil.ReadLimitedBody(resp.Body, 1<<20)
	if err != nil {
		return nil, errors.NewProviderUnavailableError(SourceAniList, err.Error())
	}

	score := gjson.GetBytes(body, "data.Media.averageScore")
	if !score.Exists() || score.Float() <= 0 {
		return nil, nil
	}

	val := score.Float()
	return &Data{
		Source: SourceAniList,
		Rating: &val,
		Scale:  ScaleHundred,
		Votes:  gjson.GetBytes(body, "data.Media.popularity").Int(),
	}, nil
}

// parseMALID extracts the numeric id from a mal-scheme identifier.
func parseMALID(id string) (int, bool) {
	if !strings.HasPrefix(id, "mal:") {
		return 0, false
	}
	n, err := strconv.Atoi(id[len("mal:"):])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
