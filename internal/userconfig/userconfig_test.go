package userconfig

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/cinemux/cinemux/pkg/errors"
)

func encodeBlob(t *testing.T, jsonStr string) string {
	t.Helper()
	return base64.RawURLEncoding.EncodeToString([]byte(jsonStr))
}

func TestDecodeDefaults(t *testing.T) {
	cfg, err := Decode(encodeBlob(t, `{"upstream":"https://addon.example.com/manifest.json"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if !cfg.RatingsEnabled {
		t.Error("ratings should be enabled by default")
	}
	if cfg.InjectLocation != InjectTitle {
		t.Errorf("default inject location = %q, want %q", cfg.InjectLocation, InjectTitle)
	}
	if cfg.Region != "US" {
		t.Errorf("default region = %q, want US", cfg.Region)
	}
	if cfg.TitleFormat.Position != PositionPrefix {
		t.Errorf("default title position = %q, want prefix", cfg.TitleFormat.Position)
	}
	if cfg.TitleFormat.Template != "{rating}" {
		t.Errorf("default template = %q, want {rating}", cfg.TitleFormat.Template)
	}
	if cfg.DescriptionFormat.Separator != "\n" {
		t.Errorf("default description separator = %q, want newline", cfg.DescriptionFormat.Separator)
	}
	if got := strings.Join(cfg.TitleFormat.OrderOfParts, ","); got != strings.Join(DefaultPartOrder, ",") {
		t.Errorf("default part order = %q", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{"not base64", "!!not-base64!!"},
		{"not json", encodeBlob(t, "plain text")},
		{"missing upstream", encodeBlob(t, `{}`)},
		{"relative upstream", encodeBlob(t, `{"upstream":"/manifest.json"}`)},
		{"bad scheme", encodeBlob(t, `{"upstream":"ftp://u/manifest.json"}`)},
		{"bad inject location", encodeBlob(t, `{"upstream":"https://u/manifest.json","injectLocation":"footer"}`)},
		{"bad position", encodeBlob(t, `{"upstream":"https://u/manifest.json","titleFormat":{"position":"middle"}}`)},
		{"template without placeholder", encodeBlob(t, `{"upstream":"https://u/manifest.json","titleFormat":{"template":"stars"}}`)},
		{"bad region", encodeBlob(t, `{"upstream":"https://u/manifest.json","region":"USA"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.blob)
			if err == nil {
				t.Fatal("Decode() should fail")
			}
			if !errors.IsType(err, errors.TypeConfigInvalid) {
				t.Errorf("error type = %v, want config_invalid", err)
			}
		})
	}
}

func TestDecodeIgnoresUnknownFieldsAndPadding(t *testing.T) {
	blob := encodeBlob(t, `{"upstream":"https://u/manifest.json","futureKnob":42}`)
	// Padded form must decode identically.
	padded := blob + strings.Repeat("=", (4-len(blob)%4)%4)

	for _, b := range []string{blob, padded} {
		cfg, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", b, err)
		}
		if cfg.UpstreamURL != "https://u/manifest.json" {
			t.Errorf("upstream = %q", cfg.UpstreamURL)
		}
	}
}

func TestLegacyFormatMigration(t *testing.T) {
	blob := encodeBlob(t, `{
		"upstream": "https://u/manifest.json",
		"format": {"position":"suffix","template":"[{rating}]","separator":" "}
	}`)
	cfg, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	// Legacy block seeds both formats.
	for name, f := range map[string]Format{"title": cfg.TitleFormat, "description": cfg.DescriptionFormat} {
		if f.Position != PositionSuffix {
			t.Errorf("%s position = %q, want suffix", name, f.Position)
		}
		if f.Template != "[{rating}]" {
			t.Errorf("%s template = %q", name, f.Template)
		}
		if f.Separator != " " {
			t.Errorf("%s separator = %q", name, f.Separator)
		}
	}
}

func TestLegacyFormatDoesNotOverrideExplicit(t *testing.T) {
	blob := encodeBlob(t, `{
		"upstream": "https://u/manifest.json",
		"titleFormat": {"position":"prefix","template":"* {rating}"},
		"format": {"position":"suffix","template":"[{rating}]"}
	}`)
	cfg, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if cfg.TitleFormat.Position != PositionPrefix {
		t.Errorf("explicit title format lost, position = %q", cfg.TitleFormat.Position)
	}
	// Description still inherits the legacy block.
	if cfg.DescriptionFormat.Position != PositionSuffix {
		t.Errorf("description should inherit legacy block, position = %q", cfg.DescriptionFormat.Position)
	}
}

func TestPartOrderRepair(t *testing.T) {
	blob := encodeBlob(t, `{
		"upstream": "https://u/manifest.json",
		"descriptionFormat": {"orderOfParts":["votes","bogus","rating","votes"]}
	}`)
	cfg, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	got := cfg.DescriptionFormat.OrderOfParts
	want := []string{"votes", "rating", "certification", "secondary", "release", "streaming"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		upstream string
		want     string
	}{
		{"manifest url", "https://addon.example.com/manifest.json", "https://addon.example.com"},
		{"base url", "https://addon.example.com", "https://addon.example.com"},
		{"trailing slash", "https://addon.example.com/", "https://addon.example.com"},
		{"nested path", "https://host/sub/manifest.json", "https://host/sub"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Decode(encodeBlob(t, `{"upstream":"`+tt.upstream+`"}`))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got := cfg.BaseURL(); got != tt.want {
				t.Errorf("BaseURL() = %q, want %q", got, tt.want)
			}
			if got := cfg.ManifestURL(); got != tt.want+"/manifest.json" {
				t.Errorf("ManifestURL() = %q", got)
			}
		})
	}
}

func TestHashIgnoresKeyOrder(t *testing.T) {
	a := encodeBlob(t, `{"upstream":"https://u/manifest.json","region":"de","userId":"u1"}`)
	b := encodeBlob(t, `{"userId":"u1","region":"de","upstream":"https://u/manifest.json"}`)

	ca, err := Decode(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}

	if ca.Hash() != cb.Hash() {
		t.Errorf("hash differs for structurally equal configs: %s vs %s", ca.Hash(), cb.Hash())
	}
	if len(ca.Hash()) != 16 {
		t.Errorf("hash length = %d, want 16", len(ca.Hash()))
	}
}

func TestHashReflectsFormatChanges(t *testing.T) {
	a, err := Decode(encodeBlob(t, `{"upstream":"https://u/manifest.json","titleFormat":{"position":"prefix","template":"{rating}"}}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Decode(encodeBlob(t, `{"upstream":"https://u/manifest.json","titleFormat":{"position":"suffix","template":"{rating}"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash() == b.Hash() {
		t.Error("different formats must produce different hashes")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig, err := Decode(encodeBlob(t, `{
		"upstream": "https://u/manifest.json",
		"displayName": "Ratings",
		"injectLocation": "both",
		"region": "de",
		"userId": "abc"
	}`))
	if err != nil {
		t.Fatal(err)
	}

	again, err := Decode(orig.Encode())
	if err != nil {
		t.Fatalf("re-decode failed: %v", err)
	}
	if orig.Hash() != again.Hash() {
		t.Errorf("round trip changed canonical hash: %s vs %s", orig.Hash(), again.Hash())
	}
	if again.Region != "DE" || again.UserID != "abc" {
		t.Errorf("round trip lost fields: %+v", again)
	}
}

func TestIsUserSpecific(t *testing.T) {
	anon, _ := Decode(encodeBlob(t, `{"upstream":"https://u/manifest.json"}`))
	auth, _ := Decode(encodeBlob(t, `{"upstream":"https://u/manifest.json","userId":"u9"}`))

	if anon.IsUserSpecific() {
		t.Error("config without userId should not be user-specific")
	}
	if !auth.IsUserSpecific() {
		t.Error("config with userId should be user-specific")
	}
}
