// Package cache implements the shared cache tier: deterministic key
// construction, a Redis-backed store with gzip-compressed values and
// fail-open semantics, single-flight deduplication of concurrent misses,
// and hot-key accounting.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// TTL classes. Selection follows the catalog id and the user-specific flag
// of the requesting config; raw entries use the same selector as their
// formatted counterparts.
const (
	TTLShort        = 10 * time.Minute
	TTLDefault      = time.Hour
	TTLLong         = 12 * time.Hour
	TTLUser         = 5 * time.Minute
	TTLSourceData   = 7 * 24 * time.Hour
	TTLConsolidated = 6 * time.Hour
)

// urlHashLen is the number of hex chars kept from the upstream URL digest.
const urlHashLen = 12

// URLHash returns the first 12 hex chars of SHA-256 over the upstream base
// URL. Raw keys embed this so configs wrapping the same upstream share
// entries regardless of display options.
func URLHash(baseURL string) string {
	sum := sha256.Sum256([]byte(baseURL))
	return hex.EncodeToString(sum[:])[:urlHashLen]
}

// Extra carries the optional trailing segments of a catalog request.
type Extra struct {
	Page   string
	Search string
	Genre  string
	UserID string
}

// KeyBuilder produces colon-separated cache keys carrying the global cache
// version. Bumping the version invalidates every previously written entry.
type KeyBuilder struct {
	version string
}

func NewKeyBuilder(version string) *KeyBuilder {
	if version == "" {
		version = "1"
	}
	return &KeyBuilder{version: version}
}

// Version returns the global cache version string.
func (k *KeyBuilder) Version() string { return k.version }

// Prefix returns the version prefix shared by all versioned keys, used by
// the admin flush to scope deletion to the current version.
func (k *KeyBuilder) Prefix() string { return "v" + k.version + ":" }

// join builds a colon-separated key with trailing empty segments dropped.
func join(segments ...string) string {
	end := len(segments)
	for end > 0 && segments[end-1] == "" {
		end--
	}
	return strings.Join(segments[:end], ":")
}

// Catalog returns the formatted-catalog key for a config hash.
func (k *KeyBuilder) Catalog(configHash, mediaType, catalogID string, extra Extra) string {
	return join("v"+k.version, "catalog", configHash, mediaType, catalogID,
		extra.Page, extra.Search, extra.Genre, extra.UserID)
}

// Meta returns the formatted-meta key for a config hash.
func (k *KeyBuilder) Meta(configHash, mediaType, id string) string {
	return join("v"+k.version, "meta", configHash, mediaType, id)
}

// Manifest returns the formatted-manifest key for a config hash.
func (k *KeyBuilder) Manifest(configHash string) string {
	return join("v"+k.version, "manifest", configHash)
}

// RawCatalog returns the format-agnostic catalog key for an upstream hash.
func (k *KeyBuilder) RawCatalog(urlHash, mediaType, catalogID string, extra Extra) string {
	return join("v"+k.version, "raw", "catalog", urlHash, mediaType, catalogID,
		extra.Page, extra.Search, extra.Genre, extra.UserID)
}

// RawMeta returns the format-agnostic meta key for an upstream hash.
func (k *KeyBuilder) RawMeta(urlHash, mediaType, id string) string {
	return join("v"+k.version, "raw", "meta", urlHash, mediaType, id)
}

// RawManifest returns the format-agnostic manifest key for an upstream hash.
func (k *KeyBuilder) RawManifest(urlHash string) string {
	return join("v"+k.version, "raw", "manifest", urlHash)
}

// SourceData returns the per-source payload key, optionally region-scoped.
func (k *KeyBuilder) SourceData(source, itemID, region string) string {
	return join("v"+k.version, "data", source, itemID, region)
}

// SourceRating returns the per-source rating key.
func (k *KeyBuilder) SourceRating(source, itemID string) string {
	return join("v"+k.version, "rating", source, itemID)
}

// Consolidated returns the consolidated-rating key for an item.
func (k *KeyBuilder) Consolidated(itemID string) string {
	return join("v"+k.version, "rating", "consolidated", itemID)
}

// RateLimit returns the sliding-window sorted-set key for an identity. The
// version sits after the fixed prefix so limiter state survives key-schema
// pattern matches on "ratelimit:*".
func (k *KeyBuilder) RateLimit(tier, identity string) string {
	return join("ratelimit", "v"+k.version, tier, identity)
}

// HotKeyBucket returns the per-minute hot-key sorted-set key.
func (k *KeyBuilder) HotKeyBucket(minute int64) string {
	return "hotkeys:" + strconv.FormatInt(minute, 10)
}

// CatalogTTL selects the TTL class for a catalog id. User-specific configs
// always take the shortest class; search catalogs expire quickly; stable
// popularity lists live long.
func CatalogTTL(catalogID string, userSpecific bool) time.Duration {
	if userSpecific {
		return TTLUser
	}
	id := strings.ToLower(catalogID)
	if strings.Contains(id, "search") {
		return TTLShort
	}
	if strings.HasPrefix(id, "top") || strings.Contains(id, "popular") || strings.Contains(id, "trending") {
		return TTLLong
	}
	return TTLDefault
}

// MetaTTL selects the TTL class for a meta response.
func MetaTTL(userSpecific bool) time.Duration {
	if userSpecific {
		return TTLUser
	}
	return TTLDefault
}

// ManifestTTL selects the TTL class for a manifest response. Manifests
// change rarely.
func ManifestTTL(userSpecific bool) time.Duration {
	if userSpecific {
		return TTLUser
	}
	return TTLLong
}
