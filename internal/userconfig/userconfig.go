// Package userconfig decodes, validates, and canonicalizes the
// per-installation configuration embedded in request URLs. The decoded
// config is immutable; every request builds a fresh one from its blob.
package userconfig

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/cinemux/cinemux/pkg/errors"
)

// Injection locations for the consolidated rating.
const (
	InjectTitle       = "title"
	InjectDescription = "description"
	InjectBoth        = "both"
)

// Positions for joining injected text to the original field.
const (
	PositionPrefix = "prefix"
	PositionSuffix = "suffix"
)

// Canonical metadata part keys, in default order. Unknown keys in a
// client-supplied order are dropped; missing ones are appended.
var DefaultPartOrder = []string{
	"rating", "votes", "certification", "secondary", "release", "streaming",
}

const manifestSuffix = "/manifest.json"

var regionPattern = regexp.MustCompile(`^[A-Za-z]{2}$`)

// Format controls how a rating is injected into one target field.
type Format struct {
	Position        string   `json:"position"`
	Template        string   `json:"template"`
	Separator       string   `json:"separator"`
	PartSeparator   string   `json:"partSeparator"`
	ApplyToCatalog  bool     `json:"applyToCatalog"`
	ApplyToEpisodes bool     `json:"applyToEpisodes"`
	IncludeFlags    []string `json:"includeFlags"`
	OrderOfParts    []string `json:"orderOfParts"`
}

// Config is the validated per-installation configuration. Fields are never
// mutated after Decode returns.
type Config struct {
	UpstreamURL       string `json:"upstream"`
	DisplayName       string `json:"displayName,omitempty"`
	RatingsEnabled    bool   `json:"ratingsEnabled"`
	InjectLocation    string `json:"injectLocation"`
	TitleFormat       Format `json:"titleFormat"`
	DescriptionFormat Format `json:"descriptionFormat"`
	MetadataProvider  string `json:"metadataProvider,omitempty"`
	UserID            string `json:"userId,omitempty"`
	Region            string `json:"region"`
}

// wireConfig is the raw decoded shape. Format blocks are pointers so the
// legacy migration can tell absent from empty.
type wireConfig struct {
	UpstreamURL       string      `json:"upstream"`
	UpstreamURLAlt    string      `json:"upstreamUrl"`
	DisplayName       string      `json:"displayName"`
	RatingsEnabled    *bool       `json:"ratingsEnabled"`
	InjectLocation    string      `json:"injectLocation"`
	TitleFormat       *wireFormat `json:"titleFormat"`
	DescriptionFormat *wireFormat `json:"descriptionFormat"`
	LegacyFormat      *wireFormat `json:"format"`
	MetadataProvider  string      `json:"metadataProvider"`
	UserID            string      `json:"userId"`
	Region            string      `json:"region"`
}

type wireFormat struct {
	Position        string   `json:"position"`
	Template        string   `json:"template"`
	Separator       string   `json:"separator"`
	PartSeparator   string   `json:"partSeparator"`
	ApplyToCatalog  *bool    `json:"applyToCatalog"`
	ApplyToEpisodes *bool    `json:"applyToEpisodes"`
	IncludeFlags    []string `json:"includeFlags"`
	OrderOfParts    []string `json:"orderOfParts"`
}

// Decode parses a URL-safe base64 config blob into a validated Config.
// Unknown JSON fields are ignored; missing fields take defaults. The legacy
// single "format" block, when present alone, seeds both the title and the
// description formats. Decode performs no I/O.
func Decode(blob string) (*Config, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(blob, "="))
	if err != nil {
		return nil, errors.NewConfigInvalidError("config", "not valid URL-safe base64")
	}
	if !utf8.Valid(raw) {
		return nil, errors.NewConfigInvalidError("config", "decoded blob is not valid UTF-8")
	}

	var wire wireConfig
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errors.NewConfigInvalidError("config", "decoded blob is not valid JSON")
	}

	cfg := wire.build()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// build applies the legacy migration and defaults, producing the immutable
// config. Validation happens separately so tests can target each step.
func (w *wireConfig) build() *Config {
	title := w.TitleFormat
	desc := w.DescriptionFormat
	if title == nil && w.LegacyFormat != nil {
		title = w.LegacyFormat
	}
	if desc == nil && w.LegacyFormat != nil {
		desc = w.LegacyFormat
	}

	upstream := w.UpstreamURL
	if upstream == "" {
		upstream = w.UpstreamURLAlt
	}

	cfg := &Config{
		UpstreamURL:       strings.TrimSpace(upstream),
		DisplayName:       strings.TrimSpace(w.DisplayName),
		RatingsEnabled:    true,
		InjectLocation:    w.InjectLocation,
		TitleFormat:       title.normalize(defaultTitleFormat()),
		DescriptionFormat: desc.normalize(defaultDescriptionFormat()),
		MetadataProvider:  strings.ToLower(strings.TrimSpace(w.MetadataProvider)),
		UserID:            strings.TrimSpace(w.UserID),
		Region:            strings.ToUpper(strings.TrimSpace(w.Region)),
	}
	if w.RatingsEnabled != nil {
		cfg.RatingsEnabled = *w.RatingsEnabled
	}
	if cfg.InjectLocation == "" {
		cfg.InjectLocation = InjectTitle
	}
	if cfg.Region == "" {
		cfg.Region = "US"
	}
	return cfg
}

func defaultTitleFormat() Format {
	return Format{
		Position:        PositionPrefix,
		Template:        "{rating}",
		Separator:       " | ",
		PartSeparator:   " | ",
		ApplyToCatalog:  true,
		ApplyToEpisodes: true,
		IncludeFlags:    append([]string(nil), DefaultPartOrder...),
		OrderOfParts:    append([]string(nil), DefaultPartOrder...),
	}
}

func defaultDescriptionFormat() Format {
	f := defaultTitleFormat()
	f.Separator = "\n"
	return f
}

// normalize overlays the wire values onto defaults and repairs the part
// order: unknown keys are dropped, missing canonical keys appended.
func (w *wireFormat) normalize(def Format) Format {
	f := def
	if w == nil {
		return f
	}
	if w.Position != "" {
		f.Position = w.Position
	}
	if w.Template != "" {
		f.Template = w.Template
	}
	if w.Separator != "" {
		f.Separator = w.Separator
	}
	if w.PartSeparator != "" {
		f.PartSeparator = w.PartSeparator
	}
	if w.ApplyToCatalog != nil {
		f.ApplyToCatalog = *w.ApplyToCatalog
	}
	if w.ApplyToEpisodes != nil {
		f.ApplyToEpisodes = *w.ApplyToEpisodes
	}
	if w.IncludeFlags != nil {
		f.IncludeFlags = filterParts(w.IncludeFlags, false)
	}
	if w.OrderOfParts != nil {
		f.OrderOfParts = filterParts(w.OrderOfParts, true)
	}
	return f
}

// filterParts keeps only canonical part keys, deduplicated, preserving the
// caller's order. With appendMissing, canonical keys absent from the input
// are appended in default order.
func filterParts(parts []string, appendMissing bool) []string {
	known := make(map[string]bool, len(DefaultPartOrder))
	for _, p := range DefaultPartOrder {
		known[p] = true
	}
	out := make([]string, 0, len(DefaultPartOrder))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if known[p] && !seen[p] {
			out = append(out, p)
			seen[p] = true
		}
	}
	if appendMissing {
		for _, p := range DefaultPartOrder {
			if !seen[p] {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.UpstreamURL == "" {
		return errors.NewConfigInvalidError("upstream", "is required")
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.NewConfigInvalidError("upstream", "must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewConfigInvalidError("upstream", "must use http or https")
	}
	switch c.InjectLocation {
	case InjectTitle, InjectDescription, InjectBoth:
	default:
		return errors.NewConfigInvalidError("injectLocation",
			`must be one of "title", "description", "both"`)
	}
	if err := c.TitleFormat.validate("titleFormat"); err != nil {
		return err
	}
	if err := c.DescriptionFormat.validate("descriptionFormat"); err != nil {
		return err
	}
	if !regionPattern.MatchString(c.Region) {
		return errors.NewConfigInvalidError("region", "must be a 2-letter code")
	}
	return nil
}

func (f *Format) validate(field string) error {
	if f.Position != PositionPrefix && f.Position != PositionSuffix {
		return errors.NewConfigInvalidError(field+".position",
			`must be "prefix" or "suffix"`)
	}
	if !strings.Contains(f.Template, "{rating}") {
		return errors.NewConfigInvalidError(field+".template",
			`must contain "{rating}"`)
	}
	return nil
}

// BaseURL returns the upstream base with any trailing manifest path and
// slash removed. Raw cache keys hash this value so that configs pointing at
// the same upstream share raw entries.
func (c *Config) BaseURL() string {
	base := strings.TrimSuffix(c.UpstreamURL, manifestSuffix)
	return strings.TrimRight(base, "/")
}

// ManifestURL returns the full manifest URL of the wrapped upstream.
func (c *Config) ManifestURL() string {
	return c.BaseURL() + manifestSuffix
}

// IsUserSpecific reports whether the config carries a user identity, which
// shortens cache TTLs and switches the rate-limit identity.
func (c *Config) IsUserSpecific() bool {
	return c.UserID != ""
}

// Encode serializes the config back to a URL-safe blob. Round trip:
// Decode(c.Encode()) yields a config with the same canonical hash.
func (c *Config) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}
