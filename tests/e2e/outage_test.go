package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/cinemux/cinemux/internal/ratelimit"
	"github.com/cinemux/cinemux/tests/testutil"
)

// TestCacheOutageFailsOpen verifies a dead cache tier degrades the proxy
// to a transparent pass-through: every request bypasses the cache and the
// limiter stops rejecting, even with an exhausted budget.
func TestCacheOutageFailsOpen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	upstream := testutil.NewMockUpstream()
	defer upstream.Close()

	limits := ratelimit.DefaultLimits()
	limits.AnonymousStandard = ratelimit.Policy{RPS: 1, Burst: 2}

	server, err := testutil.NewTestServer(testutil.WithRateLimits(limits))
	require.NoError(t, err)
	require.NoError(t, server.Start())
	defer server.Stop()

	client := testutil.NewTestClient(server.URL())
	blob := testutil.BuildConfig(upstream.ManifestURL(), nil)

	server.Tier().SetEnabled(false)

	// Five cold requests against a burst of two: with the tier down, all
	// of them pass straight through.
	for i := 0; i < 5; i++ {
		resp, err := client.GetCatalog(ctx, blob, "movie", fmt.Sprintf("outage-%d", i))
		require.NoError(t, err)
		testutil.RequireStatusOK(t, resp)
		testutil.AssertCacheStatus(t, resp, "bypass")
		testutil.AssertNoRateLimitHeaders(t, resp)
		resp.Body.Close()
	}
	assert.Equal(t, 5, upstream.CatalogCalls())

	// Recovery restores both caching and admission.
	server.Tier().SetEnabled(true)

	resp, err := client.GetCatalog(ctx, blob, "movie", "recovered")
	require.NoError(t, err)
	testutil.RequireStatusOK(t, resp)
	testutil.AssertCacheStatus(t, resp, "miss")
	testutil.AssertRateLimitHeaders(t, resp)
	resp.Body.Close()
}

// TestServeWithoutStore verifies a server started with no store at all
// still proxies and reports itself healthy with the cache probe disabled.
func TestServeWithoutStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	upstream := testutil.NewMockUpstream()
	defer upstream.Close()

	server, err := testutil.NewTestServer(testutil.WithoutStore())
	require.NoError(t, err)
	require.NoError(t, server.Start())
	defer server.Stop()

	client := testutil.NewTestClient(server.URL())

	resp, err := client.Get(ctx, "/healthz")
	require.NoError(t, err)
	testutil.RequireStatusOK(t, resp)
	body, err := testutil.ReadBody(resp)
	require.NoError(t, err)
	assert.Equal(t, "healthy", gjson.GetBytes(body, "status").String())
	assert.Equal(t, "disabled", gjson.GetBytes(body, "checks.cache.status").String())

	blob := testutil.BuildConfig(upstream.ManifestURL(), nil)
	for i := 0; i < 2; i++ {
		resp, err := client.GetCatalog(ctx, blob, "movie", "storeless")
		require.NoError(t, err)
		testutil.RequireStatusOK(t, resp)
		testutil.AssertCacheStatus(t, resp, "bypass")
		testutil.AssertNoRateLimitHeaders(t, resp)
		resp.Body.Close()
	}

	// No cache to replay from, so both requests reach the upstream.
	assert.Equal(t, 2, upstream.CatalogCalls())
}
