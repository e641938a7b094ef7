package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/cinemux/cinemux/internal/cache"
	"github.com/cinemux/cinemux/internal/metrics"
	"github.com/cinemux/cinemux/internal/observability"
	"github.com/cinemux/cinemux/internal/ratelimit"
	"github.com/cinemux/cinemux/internal/userconfig"
	"github.com/cinemux/cinemux/pkg/errors"
)

// Cache disposition values carried in the X-Cache response header.
const (
	cacheHit    = "hit"
	cacheMiss   = "miss"
	cacheBypass = "bypass"
)

// docRequest is one data request after route and config decoding: the
// cache coordinates, the upstream URL, and the shape-specific enrich and
// failure behaviors.
type docRequest struct {
	resource  string
	mediaType string
	itemID    string
	formatted string
	raw       string
	ttl       time.Duration
	upstream  string
	rlTier    string
	enrich    func(ctx context.Context, doc []byte, cfg *userconfig.Config) []byte
	fallback  func(w http.ResponseWriter, pe *errors.ProxyError)
}

// Manifest handles GET /{config}/manifest.json.
func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.decodeConfig(w, r)
	if !ok {
		return
	}

	urlHash := cache.URLHash(cfg.BaseURL())
	h.serveDocument(w, r, cfg, docRequest{
		resource:  "manifest",
		formatted: h.keys.Manifest(cfg.Hash()),
		raw:       h.keys.RawManifest(urlHash),
		ttl:       cache.ManifestTTL(cfg.IsUserSpecific()),
		upstream:  cfg.ManifestURL(),
		rlTier:    ratelimit.TierStandard,
		enrich: func(_ context.Context, doc []byte, c *userconfig.Config) []byte {
			return h.enricher.Manifest(doc, c)
		},
		fallback: func(w http.ResponseWriter, pe *errors.ProxyError) {
			// A proxy without a manifest is not installable; surface the
			// failure instead of faking an empty document.
			writeError(w, errors.NewConfigInvalidError("upstream",
				"upstream manifest unavailable: "+pe.Message))
		},
	})
}

// Catalog handles GET /{config}/catalog/{type}/{id} with an optional
// extra segment carrying skip, search, and genre parameters.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.decodeConfig(w, r)
	if !ok {
		return
	}

	mediaType := r.PathValue("type")
	catalogID := stripJSONSuffix(r.PathValue("id"))
	extraRaw, extra := parseExtra(r, cfg)

	upstreamURL := cfg.BaseURL() + "/catalog/" + mediaType + "/" + catalogID
	if extraRaw != "" {
		upstreamURL += "/" + url.PathEscape(extraRaw)
	}
	upstreamURL += ".json"

	hasSearch := extra.Search != ""
	urlHash := cache.URLHash(cfg.BaseURL())

	h.serveDocument(w, r, cfg, docRequest{
		resource:  "catalog",
		mediaType: mediaType,
		itemID:    catalogID,
		formatted: h.keys.Catalog(cfg.Hash(), mediaType, catalogID, extra),
		raw:       h.keys.RawCatalog(urlHash, mediaType, catalogID, extra),
		ttl:       cache.CatalogTTL(catalogID, cfg.IsUserSpecific()),
		upstream:  upstreamURL,
		rlTier:    ratelimit.TierFor(catalogID, hasSearch),
		enrich:    h.enricher.Catalog,
		fallback: func(w http.ResponseWriter, _ *errors.ProxyError) {
			writeRawJSON(w, http.StatusOK, []byte(`{"metas":[]}`))
		},
	})
}

// Meta handles GET /{config}/meta/{type}/{id}.
func (h *Handler) Meta(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.decodeConfig(w, r)
	if !ok {
		return
	}

	mediaType := r.PathValue("type")
	itemID := stripJSONSuffix(r.PathValue("id"))
	urlHash := cache.URLHash(cfg.BaseURL())

	h.serveDocument(w, r, cfg, docRequest{
		resource:  "meta",
		mediaType: mediaType,
		itemID:    itemID,
		formatted: h.keys.Meta(cfg.Hash(), mediaType, itemID),
		raw:       h.keys.RawMeta(urlHash, mediaType, itemID),
		ttl:       cache.MetaTTL(cfg.IsUserSpecific()),
		upstream:  cfg.BaseURL() + "/meta/" + mediaType + "/" + itemID + ".json",
		rlTier:    ratelimit.TierStandard,
		enrich:    h.enricher.Meta,
		fallback: func(w http.ResponseWriter, _ *errors.ProxyError) {
			writeRawJSON(w, http.StatusOK, []byte(`{"meta":null}`))
		},
	})
}

// serveDocument runs the shared pipeline: formatted-cache lookup with
// single-flight miss coalescing, admission control on the flight leader,
// raw-layer reuse, upstream fetch, and enrichment. Failures degrade to the
// shape's fallback so installed clients keep working.
func (h *Handler) serveDocument(w http.ResponseWriter, r *http.Request, cfg *userconfig.Config, req docRequest) {
	ctx, span := observability.StartResourceSpan(r.Context(), h.tracer, "proxy."+req.resource,
		observability.ResourceSpanAttributes{
			Resource:    req.resource,
			ContentType: req.mediaType,
			ItemID:      req.itemID,
		})
	defer span.End()

	h.hotkeys.Track(req.formatted)

	id := ratelimit.IdentityFor(r, cfg.UserID)

	// The admission check runs inside the compute so cache hits stay free
	// and coalesced waiters share the leader's single token.
	var admission *ratelimit.Result
	body, res, err := h.flight.Do(ctx, req.formatted, req.ttl, func(ctx context.Context) ([]byte, error) {
		if h.limiter != nil {
			lr := h.limiter.Check(ctx, id, req.rlTier)
			admission = &lr
			metrics.RecordRateLimit(req.rlTier, admissionOutcome(lr))
			if !lr.Allowed {
				return nil, errors.NewRateLimitedError("rate limit exceeded", lr.RetryAfter)
			}
		}
		return h.compute(ctx, cfg, req)
	})

	if err != nil {
		pe := errors.From(err)
		if pe.Type == errors.TypeRateLimited {
			h.writeRateLimited(w, id, req.rlTier, admission, pe)
			return
		}
		observability.RecordError(span, err)
		h.log.Warn("document pipeline degraded",
			"resource", req.resource, "key", req.formatted, "error", err)
		w.Header().Set("X-Cache", h.missState())
		req.fallback(w, pe)
		return
	}

	state := cacheMiss
	switch {
	case res.FromCache:
		state = cacheHit
	case !h.tier.Enabled():
		state = cacheBypass
	}
	if res.Coalesced {
		metrics.FlightsCoalesced.Inc()
	}
	metrics.RecordCacheLookup("formatted", state)
	observability.RecordCacheStatus(span, state)

	if admission != nil && !admission.Bypassed {
		setRateLimitHeaders(w, *admission)
	}
	w.Header().Set("X-Cache", state)
	writeRawJSON(w, http.StatusOK, body)
}

// compute produces the formatted document on a cache miss: reuse the
// format-agnostic raw layer when possible, otherwise fetch from the
// upstream, then enrich for this config.
func (h *Handler) compute(ctx context.Context, cfg *userconfig.Config, req docRequest) ([]byte, error) {
	useRaw := !h.cfg.Get().Cache.DisableRaw

	var doc []byte
	var found bool
	if useRaw {
		doc, found = h.tier.GetBytes(ctx, req.raw)
		metrics.RecordCacheLookup("raw", rawState(found))
	}

	if !found {
		start := time.Now()
		fetched, err := h.fetcher.Get(ctx, req.upstream)
		metrics.RecordUpstreamFetch(fetchOutcome(err), time.Since(start))
		if err != nil {
			return nil, err
		}
		doc = normalizeDocument(fetched)
		if useRaw {
			h.tier.SetBytesAsync(req.raw, doc, req.ttl)
		}
	}

	return req.enrich(ctx, doc, cfg), nil
}

// decodeConfig resolves the config path segment. A malformed blob is a
// client error, not a degraded response.
func (h *Handler) decodeConfig(w http.ResponseWriter, r *http.Request) (*userconfig.Config, bool) {
	cfg, err := userconfig.Decode(r.PathValue("config"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return cfg, true
}

// missState is the header disposition for responses that did not come
// from the formatted cache.
func (h *Handler) missState() string {
	if !h.tier.Enabled() {
		return cacheBypass
	}
	return cacheMiss
}

// normalizeDocument canonicalizes legacy upstream shapes before the raw
// layer stores them, currently the metasDetailed catalog envelope.
func normalizeDocument(doc []byte) []byte {
	if gjson.GetBytes(doc, "metas").Exists() {
		return doc
	}
	detailed := gjson.GetBytes(doc, "metasDetailed")
	if !detailed.IsArray() {
		return doc
	}
	out, err := sjson.SetRawBytes(doc, "metas", []byte(detailed.Raw))
	if err != nil {
		return doc
	}
	out, err = sjson.DeleteBytes(out, "metasDetailed")
	if err != nil {
		return doc
	}
	return out
}

// parseExtra splits the optional catalog extra segment ("skip=100&genre=X")
// into the cache key coordinates. Unknown parameters still reach the
// upstream through the URL; they just do not partition the cache.
func parseExtra(r *http.Request, cfg *userconfig.Config) (string, cache.Extra) {
	extra := cache.Extra{UserID: cfg.UserID}
	raw := stripJSONSuffix(r.PathValue("extra"))
	if raw == "" {
		return "", extra
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw, extra
	}
	extra.Page = values.Get("skip")
	extra.Search = values.Get("search")
	extra.Genre = values.Get("genre")
	return raw, extra
}

func stripJSONSuffix(s string) string {
	return strings.TrimSuffix(s, ".json")
}

func rawState(found bool) string {
	if found {
		return cacheHit
	}
	return cacheMiss
}

func admissionOutcome(res ratelimit.Result) string {
	switch {
	case res.Bypassed:
		return "bypassed"
	case res.Allowed:
		return "allowed"
	default:
		return "rejected"
	}
}

func fetchOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case errors.IsType(err, errors.TypeUpstreamTimeout):
		return "timeout"
	case errors.IsType(err, errors.TypeUpstreamClient):
		return "client_error"
	case errors.IsType(err, errors.TypeUpstreamServer):
		return "server_error"
	default:
		return "error"
	}
}
