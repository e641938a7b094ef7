// Package enrich rewrites upstream catalog and meta documents, injecting
// consolidated ratings into titles and descriptions according to the
// per-installation config. Inputs are never mutated; every rewrite
// produces a new document.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/cinemux/cinemux/internal/metrics"
	"github.com/cinemux/cinemux/internal/rating"
	"github.com/cinemux/cinemux/internal/userconfig"
)

// RatingService is the consolidator surface the enricher draws from.
type RatingService interface {
	Consolidate(ctx context.Context, itemID string, opts rating.Options) *rating.Consolidated
	ConsolidateBatch(ctx context.Context, items []rating.Item, opts rating.Options) map[string]*rating.Consolidated
	Streaming(ctx context.Context, itemID, region string) []string
}

// votesPrinter renders vote counts with thousands grouping.
var votesPrinter = message.NewPrinter(language.English)

// Enricher applies rating injection to upstream documents.
type Enricher struct {
	ratings RatingService
	log     *slog.Logger
}

// New builds an enricher over a rating service.
func New(ratings RatingService, log *slog.Logger) *Enricher {
	return &Enricher{ratings: ratings, log: log}
}

// Catalog enriches every supported item of a catalog document. Items whose
// id no source understands, and items without a consolidated rating, pass
// through untouched.
func (e *Enricher) Catalog(ctx context.Context, doc []byte, cfg *userconfig.Config) []byte {
	if !cfg.RatingsEnabled {
		return doc
	}
	metas := gjson.GetBytes(doc, "metas")
	if !metas.IsArray() {
		return doc
	}

	start := time.Now()
	defer func() { metrics.EnrichLatency.Observe(time.Since(start).Seconds()) }()

	var items []rating.Item
	for _, m := range metas.Array() {
		if id := m.Get("id").String(); rating.SupportedID(id) {
			items = append(items, rating.Item{ID: id})
		}
	}
	if len(items) == 0 {
		return doc
	}
	consolidated := e.ratings.ConsolidateBatch(ctx, items, e.optsFor(cfg))

	out := doc
	for i, m := range metas.Array() {
		cons := consolidated[m.Get("id").String()]
		if cons == nil {
			continue
		}
		out = e.applyItem(ctx, out, "metas."+strconv.Itoa(i), m, cons, cfg, false)
		metrics.EnrichedItems.Inc()
	}
	return out
}

// Meta enriches a meta document and, for series, its videos.
func (e *Enricher) Meta(ctx context.Context, doc []byte, cfg *userconfig.Config) []byte {
	if !cfg.RatingsEnabled {
		return doc
	}
	meta := gjson.GetBytes(doc, "meta")
	if !meta.IsObject() {
		return doc
	}

	start := time.Now()
	defer func() { metrics.EnrichLatency.Observe(time.Since(start).Seconds()) }()

	out := doc
	opts := e.optsFor(cfg)
	if id := meta.Get("id").String(); rating.SupportedID(id) {
		if cons := e.ratings.Consolidate(ctx, id, opts); cons != nil {
			out = e.applyItem(ctx, out, "meta", meta, cons, cfg, false)
			metrics.EnrichedItems.Inc()
		}
	}
	if meta.Get("type").String() == "series" {
		out = e.enrichVideos(ctx, out, cfg, opts)
	}
	return out
}

// Manifest applies the config's display overrides to an upstream manifest.
func (e *Enricher) Manifest(doc []byte, cfg *userconfig.Config) []byte {
	if cfg.DisplayName == "" {
		return doc
	}
	out, err := sjson.SetBytes(doc, "name", cfg.DisplayName)
	if err != nil {
		e.log.Warn("manifest rewrite failed", "error", err)
		return doc
	}
	return out
}

// enrichVideos rewrites the episode entries of a series meta. Episode ids
// carry the series id plus season and episode coordinates; ratings resolve
// at episode level through the sources that track them.
func (e *Enricher) enrichVideos(ctx context.Context, doc []byte, cfg *userconfig.Config, opts rating.Options) []byte {
	videos := gjson.GetBytes(doc, "meta.videos")
	if !videos.IsArray() {
		return doc
	}

	var items []rating.Item
	for _, v := range videos.Array() {
		if it, ok := parseVideoID(v.Get("id").String()); ok {
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		return doc
	}
	consolidated := e.ratings.ConsolidateBatch(ctx, items, opts)

	out := doc
	for i, v := range videos.Array() {
		it, ok := parseVideoID(v.Get("id").String())
		if !ok {
			continue
		}
		cons := consolidated[it.Key()]
		if cons == nil {
			continue
		}
		out = e.applyItem(ctx, out, "meta.videos."+strconv.Itoa(i), v, cons, cfg, true)
		metrics.EnrichedItems.Inc()
	}
	return out
}

// applyItem rewrites one item's title and description per the config. The
// base path addresses the item inside the document.
func (e *Enricher) applyItem(ctx context.Context, doc []byte, base string, item gjson.Result, cons *rating.Consolidated, cfg *userconfig.Config, episode bool) []byte {
	titleWanted := cfg.InjectLocation == userconfig.InjectTitle || cfg.InjectLocation == userconfig.InjectBoth
	descWanted := cfg.InjectLocation == userconfig.InjectDescription || cfg.InjectLocation == userconfig.InjectBoth

	if titleWanted && formatApplies(cfg.TitleFormat, episode) {
		field, orig := "name", item.Get("name")
		if !orig.Exists() {
			field, orig = "title", item.Get("title")
		}
		if orig.Exists() && orig.String() != "" {
			rendered := renderTemplate(cfg.TitleFormat.Template, cons.Score)
			injected := injectText(orig.String(), rendered, cfg.TitleFormat)
			doc = e.setField(doc, base+"."+field, injected)
		}
	}

	if descWanted && formatApplies(cfg.DescriptionFormat, episode) {
		if line := e.partsLine(ctx, item.Get("id").String(), cons, cfg); line != "" {
			injected := injectText(item.Get("description").String(), line, cfg.DescriptionFormat)
			doc = e.setField(doc, base+".description", injected)
		}
	}
	return doc
}

// setField writes a string field, keeping the document intact on failure.
func (e *Enricher) setField(doc []byte, path, value string) []byte {
	out, err := sjson.SetBytes(doc, path, value)
	if err != nil {
		e.log.Warn("document rewrite failed", "path", path, "error", err)
		return doc
	}
	return out
}

// partsLine builds the ordered metadata line for a description.
func (e *Enricher) partsLine(ctx context.Context, itemID string, cons *rating.Consolidated, cfg *userconfig.Config) string {
	f := cfg.DescriptionFormat
	include := make(map[string]bool, len(f.IncludeFlags))
	for _, p := range f.IncludeFlags {
		include[p] = true
	}

	var parts []string
	for _, p := range f.OrderOfParts {
		if !include[p] {
			continue
		}
		if v := e.renderPart(ctx, p, itemID, cons, cfg); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, f.PartSeparator)
}

// renderPart renders one metadata part, empty when the data is absent.
func (e *Enricher) renderPart(ctx context.Context, part, itemID string, cons *rating.Consolidated, cfg *userconfig.Config) string {
	switch part {
	case "rating":
		return renderTemplate(cfg.DescriptionFormat.Template, cons.Score)
	case "votes":
		if cons.Votes <= 0 {
			return ""
		}
		return votesPrinter.Sprintf("%d votes", cons.Votes)
	case "certification":
		return cons.Certification
	case "secondary":
		var s []string
		if cons.RTScore != nil {
			s = append(s, fmt.Sprintf("RT %d%%", *cons.RTScore))
		}
		if cons.Metacritic != nil {
			s = append(s, fmt.Sprintf("MC %d", *cons.Metacritic))
		}
		return strings.Join(s, " ")
	case "release":
		return cons.ReleaseDate
	case "streaming":
		return strings.Join(e.ratings.Streaming(ctx, itemID, cfg.Region), ", ")
	}
	return ""
}

// optsFor derives the source lookup options from a config.
func (e *Enricher) optsFor(cfg *userconfig.Config) rating.Options {
	return rating.Options{
		Region:     cfg.Region,
		OnlySource: cfg.MetadataProvider,
	}
}

// formatApplies checks a format's applicability flag for the item kind.
func formatApplies(f userconfig.Format, episode bool) bool {
	if episode {
		return f.ApplyToEpisodes
	}
	return f.ApplyToCatalog
}

// injectText joins rendered text to the original field at the configured
// position. A field already carrying the rendered text is left unchanged,
// which makes enrichment idempotent.
func injectText(original, rendered string, f userconfig.Format) string {
	if rendered == "" {
		return original
	}
	if original == "" {
		return rendered
	}
	if f.Position == userconfig.PositionSuffix {
		if strings.HasSuffix(original, f.Separator+rendered) {
			return original
		}
		return original + f.Separator + rendered
	}
	if strings.HasPrefix(original, rendered+f.Separator) {
		return original
	}
	return rendered + f.Separator + original
}

// renderTemplate substitutes the score into a "{rating}" template.
func renderTemplate(template string, score float64) string {
	return strings.ReplaceAll(template, "{rating}", formatScore(score))
}

// formatScore prints a score with its decimal only when meaningful.
func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// parseVideoID splits a series episode id into its coordinates. Episode
// ids look like tt0903747:4:13.
func parseVideoID(id string) (rating.Item, bool) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || !rating.IsIMDBID(parts[0]) {
		return rating.Item{}, false
	}
	season, err := strconv.Atoi(parts[1])
	if err != nil || season < 0 {
		return rating.Item{}, false
	}
	episode, err := strconv.Atoi(parts[2])
	if err != nil || episode <= 0 {
		return rating.Item{}, false
	}
	return rating.Item{ID: parts[0], Season: season, Episode: episode}, true
}
