package observability

import (
	"strings"
	"testing"
)

func TestRedactor_QueryParams(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		input    string
		contains string
	}{
		{"GET https://api.mdblist.com/imdb/tt0111161?apikey=abc123xyz&region=US", "apikey=[REDACTED]"},
		{"https://api.themoviedb.org/3/find/tt1?api_key=deadbeef&external_source=imdb_id", "api_key=[REDACTED]"},
		{"/admin/cache/flush?secret=hunter2", "secret=[REDACTED]"},
		{"callback?token=opaque-value-1", "token=[REDACTED]"},
	}

	for _, tt := range tests {
		result := r.Redact(tt.input)
		if !strings.Contains(result, tt.contains) {
			t.Errorf("Redact(%q) = %q, want it to contain %q", tt.input, result, tt.contains)
		}
	}
}

func TestRedactor_QueryParamKeepsRest(t *testing.T) {
	r := NewRedactor()

	result := r.Redact("fetch failed url=/imdb/tt0111161?apikey=zzz&region=US")
	if !strings.Contains(result, "region=US") {
		t.Errorf("non-sensitive params should survive, got %q", result)
	}
	if !strings.Contains(result, "tt0111161") {
		t.Errorf("item ids should survive, got %q", result)
	}
}

func TestRedactor_HexKey(t *testing.T) {
	r := NewRedactor()

	input := "tmdb key 0123456789abcdef0123456789abcdef rejected"
	result := r.Redact(input)

	if !strings.Contains(result, "[REDACTED_API_KEY]") {
		t.Errorf("expected hex key to be redacted, got %q", result)
	}
}

func TestRedactor_ConfigBlob(t *testing.T) {
	r := NewRedactor()

	// base64url of {"rpdbkey":"t0-secret"...}
	input := "decode failed blob=eyJycGRia2V5IjoidDAtc2VjcmV0In0"
	result := r.Redact(input)

	if !strings.Contains(result, "[REDACTED_CONFIG]") {
		t.Errorf("expected config blob to be redacted, got %q", result)
	}
}

func TestRedactor_ShortHexSurvives(t *testing.T) {
	r := NewRedactor()

	// Item ids and short hashes must not be eaten by the hex key pattern.
	result := r.Redact("key hash a1b2c3d4 for tt0111161")
	if strings.Contains(result, "[REDACTED_API_KEY]") {
		t.Errorf("short hex should survive, got %q", result)
	}
}

func TestRedactor_BearerToken(t *testing.T) {
	r := NewRedactor()

	input := "Bearer abc.def.ghi-jkl"
	result := r.Redact(input)

	if !strings.Contains(result, "Bearer [REDACTED]") {
		t.Errorf("expected bearer token to be redacted, got %q", result)
	}
}

func TestRedactor_Email(t *testing.T) {
	r := NewRedactor()

	input := "debrid account test@example.com"
	result := r.Redact(input)

	if !strings.Contains(result, "[REDACTED_EMAIL]") {
		t.Errorf("expected email to be redacted, got %q", result)
	}
}

func TestRedactor_RedactMap(t *testing.T) {
	r := NewRedactor()

	input := map[string]any{
		"api_key":  "0123456789abcdef0123456789abcdef",
		"username": "testuser",
		"password": "secret123",
		"data": map[string]any{
			"token": "abc123",
		},
	}

	result := r.RedactMap(input)

	if result["api_key"] != "[REDACTED]" {
		t.Errorf("expected api_key to be redacted, got %v", result["api_key"])
	}
	if result["password"] != "[REDACTED]" {
		t.Errorf("expected password to be redacted, got %v", result["password"])
	}
	if result["username"] != "testuser" {
		t.Errorf("expected username to be unchanged, got %v", result["username"])
	}

	nested := result["data"].(map[string]any)
	if nested["token"] != "[REDACTED]" {
		t.Errorf("expected nested token to be redacted, got %v", nested["token"])
	}
}

func TestRedactor_RedactHeaders(t *testing.T) {
	r := NewRedactor()

	headers := map[string][]string{
		"Authorization":  {"Bearer token123"},
		"X-Api-Key":      {"0123456789abcdef"},
		"X-Admin-Secret": {"hunter2"},
		"Content-Type":   {"application/json"},
		"Cookie":         {"session=abc123"},
	}

	result := r.RedactHeaders(headers)

	if result["Authorization"][0] != "[REDACTED]" {
		t.Errorf("expected Authorization to be redacted")
	}
	if result["X-Api-Key"][0] != "[REDACTED]" {
		t.Errorf("expected X-Api-Key to be redacted")
	}
	if result["X-Admin-Secret"][0] != "[REDACTED]" {
		t.Errorf("expected X-Admin-Secret to be redacted")
	}
	if result["Content-Type"][0] != "application/json" {
		t.Errorf("expected Content-Type to be unchanged")
	}
	if result["Cookie"][0] != "[REDACTED]" {
		t.Errorf("expected Cookie to be redacted")
	}
}

func TestRedactor_AddPattern(t *testing.T) {
	r := NewRedactor()

	// Add custom pattern
	r.AddPattern(`SECRET_[A-Z0-9]+`, "[CUSTOM_REDACTED]", "custom")

	input := "my secret is SECRET_ABC123"
	result := r.Redact(input)

	if !strings.Contains(result, "[CUSTOM_REDACTED]") {
		t.Errorf("expected custom pattern to be redacted, got %q", result)
	}
}

func TestRedactor_InvalidPattern(t *testing.T) {
	r := NewRedactor()

	// Invalid regex should not panic
	r.AddPattern(`[invalid`, "replacement", "invalid")

	// Should still work
	result := r.Redact("test")
	if result != "test" {
		t.Errorf("expected unchanged result, got %q", result)
	}
}

func TestRedactor_RedactArray(t *testing.T) {
	r := NewRedactor()

	input := map[string]any{
		"items": []any{
			"normal text",
			"email: test@example.com",
			map[string]any{"api_key": "secret"},
		},
	}

	result := r.RedactMap(input)
	items := result["items"].([]any)

	if items[0] != "normal text" {
		t.Errorf("expected first item unchanged")
	}
	if !strings.Contains(items[1].(string), "[REDACTED_EMAIL]") {
		t.Errorf("expected email in array to be redacted")
	}
	nested := items[2].(map[string]any)
	if nested["api_key"] != "[REDACTED]" {
		t.Errorf("expected nested api_key to be redacted")
	}
}
