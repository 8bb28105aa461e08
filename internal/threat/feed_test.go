package threat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatmap/internal/common"
)

func jsonServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func textServer(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func closedServerURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestPrimaryFeed_DecodesThreats(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"threats":[
		{"latitude":40.7,"longitude":-74.0,"type":"phishing","severity":"Medium","source_ip":"1.1.1.1","timestamp":"2024-04-30T10:00:00Z"},
		{"latitude":"51.5","longitude":"-0.12","type":"ddos","severity":"low","source_ip":"2.2.2.2"}
	]}`)

	entries, err := NewPrimaryFeed(srv.URL, nil).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 40.7, *entries[0].Latitude)
	assert.Equal(t, -74.0, *entries[0].Longitude)
	assert.Equal(t, "phishing", entries[0].Kind)
	assert.Equal(t, "Medium", entries[0].Severity)
	assert.Equal(t, "1.1.1.1", entries[0].SourceIP)
	assert.Equal(t, "2024-04-30T10:00:00Z", entries[0].Timestamp)

	assert.Equal(t, 51.5, *entries[1].Latitude)
	assert.Equal(t, -0.12, *entries[1].Longitude)
	assert.Empty(t, entries[1].Timestamp)
}

func TestPrimaryFeed_MissingAndBadCoordinatesAreAbsent(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"threats":[
		{"longitude":10},
		{"latitude":"north","longitude":10},
		{"latitude":null,"longitude":10},
		42
	]}`)

	entries, err := NewPrimaryFeed(srv.URL, nil).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Nil(t, e.Latitude)
	}
}

func TestPrimaryFeed_NumericFieldsAsText(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"threats":[{"latitude":1,"longitude":2,"timestamp":1714435200,"source_ip":3232235777}]}`)

	entries, err := NewPrimaryFeed(srv.URL, nil).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1714435200", entries[0].Timestamp)
	assert.Equal(t, "3232235777", entries[0].SourceIP)
}

func TestPrimaryFeed_NetworkErrors(t *testing.T) {
	srv := jsonServer(t, http.StatusInternalServerError, `{"error":"boom"}`)
	_, err := NewPrimaryFeed(srv.URL+"/v1/latest?key=secret", nil).Fetch(context.Background())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusInternalServerError, netErr.StatusCode)
	assert.Equal(t, common.TierPrimary, netErr.Tier)
	assert.NotContains(t, netErr.Error(), "secret", "only scheme and host should be logged")

	_, err = NewPrimaryFeed(closedServerURL(t), nil).Fetch(context.Background())
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, netErr.StatusCode)
	assert.Error(t, errors.Unwrap(err))
}

func TestPrimaryFeed_SchemaErrors(t *testing.T) {
	cases := map[string]string{
		"not json":         `<html>maintenance</html>`,
		"array body":       `[{"latitude":1}]`,
		"missing threats":  `{"data":[]}`,
		"null threats":     `{"threats":null}`,
		"object threats":   `{"threats":{"latitude":1}}`,
		"string threats":   `{"threats":"none"}`,
		"truncated object": `{"threats":[`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := jsonServer(t, http.StatusOK, body)
			_, err := NewPrimaryFeed(srv.URL, nil).Fetch(context.Background())
			var schemaErr *SchemaError
			assert.ErrorAs(t, err, &schemaErr)
		})
	}
}

func TestPrimaryFeed_SendsHeaders(t *testing.T) {
	var gotAccept, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, `{"threats":[]}`)
	}))
	defer srv.Close()

	_, err := NewPrimaryFeed(srv.URL, nil).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotAccept)
	assert.True(t, strings.HasPrefix(gotUA, "threatmap/"))
}

func TestSecondaryFeed_SynthesizesEntries(t *testing.T) {
	srv := textServer(t, "text/plain; charset=utf-8", "# header\n1.2.3.4#4#2#Scanning Host#CN\n5.6.7.8\n")
	feed := NewSecondaryFeed(srv.URL, nil, WithSecondaryRand(rand.New(rand.NewPCG(1, 1))))

	entries, err := feed.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "1.2.3.4", entries[0].SourceIP)
	assert.Equal(t, "5.6.7.8", entries[1].SourceIP)
	for _, e := range entries {
		require.NotNil(t, e.Latitude)
		require.NotNil(t, e.Longitude)
		assert.True(t, validLatitude(e.Latitude))
		assert.True(t, validLongitude(e.Longitude))
		assert.Equal(t, common.KindMaliciousIP, e.Kind)
		assert.Contains(t, []string{"high", "medium", "low"}, e.Severity)
		assert.Empty(t, e.Timestamp)
	}
}

func TestSecondaryFeed_ReadsAtMostHundredLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&b, "10.1.%d.%d\n", i/256, i%256)
	}
	srv := textServer(t, "text/plain", b.String())

	entries, err := NewSecondaryFeed(srv.URL, nil).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, MaxSecondaryLines)
}

func TestSecondaryFeed_OverlongLineKeepsEntries(t *testing.T) {
	body := "1.2.3.4\n5.6.7.8\n" + strings.Repeat("x", 70*1024) + "\n"
	srv := textServer(t, "text/plain", body)

	entries, err := NewSecondaryFeed(srv.URL, nil).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "1.2.3.4", entries[0].SourceIP)
	assert.Equal(t, "5.6.7.8", entries[1].SourceIP)
}

func TestSecondaryFeed_MissingContentTypeAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		w.Write([]byte("9.9.9.9\n"))
	}))
	defer srv.Close()

	entries, err := NewSecondaryFeed(srv.URL, nil).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSecondaryFeed_FormatErrors(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
	}{
		{"empty", "text/plain", ""},
		{"comments only", "text/plain", "# a\n# b\n\n"},
		{"json body", "application/json", `{"ips":["1.2.3.4"]}`},
		{"binary body", "application/octet-stream", "\x00\x01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := textServer(t, tc.contentType, tc.body)
			_, err := NewSecondaryFeed(srv.URL, nil).Fetch(context.Background())
			var formatErr *FormatError
			assert.ErrorAs(t, err, &formatErr)
		})
	}
}

func TestSecondaryFeed_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewSecondaryFeed(srv.URL, nil).Fetch(context.Background())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, common.TierSecondary, netErr.Tier)
	assert.Equal(t, http.StatusBadGateway, netErr.StatusCode)
}

func TestSeverityWeights_DrawThresholds(t *testing.T) {
	w := DefaultSeverityWeights()
	assert.Equal(t, common.SeverityHigh, w.draw(0))
	assert.Equal(t, common.SeverityHigh, w.draw(0.29))
	assert.Equal(t, common.SeverityMedium, w.draw(0.31))
	assert.Equal(t, common.SeverityMedium, w.draw(0.59))
	assert.Equal(t, common.SeverityLow, w.draw(0.61))
	assert.Equal(t, common.SeverityLow, w.draw(0.9999))
}

func TestSeverityWeights_Distribution(t *testing.T) {
	rng := newLockedRand(rand.New(rand.NewPCG(42, 42)))
	w := DefaultSeverityWeights()
	counts := map[common.Severity]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		counts[w.draw(rng.Float64())]++
	}
	assert.InDelta(t, 0.3, float64(counts[common.SeverityHigh])/n, 0.02)
	assert.InDelta(t, 0.3, float64(counts[common.SeverityMedium])/n, 0.02)
	assert.InDelta(t, 0.4, float64(counts[common.SeverityLow])/n, 0.02)
}

func TestSeverityWeights_Validity(t *testing.T) {
	assert.True(t, DefaultSeverityWeights().Valid())
	assert.True(t, SeverityWeights{Low: 1}.Valid())
	assert.False(t, SeverityWeights{}.Valid())
	assert.False(t, SeverityWeights{High: -1, Low: 2}.Valid())
	assert.False(t, SeverityWeights{High: math.Inf(1)}.Valid())
	assert.False(t, SeverityWeights{High: 1, Medium: math.NaN()}.Valid())
	assert.False(t, SeverityWeights{High: math.MaxFloat64, Low: math.MaxFloat64}.Valid(), "total overflows")
}

func TestWithSeverityWeights_IgnoresInvalid(t *testing.T) {
	feed := NewSecondaryFeed("http://example.invalid", nil, WithSeverityWeights(SeverityWeights{}))
	assert.Equal(t, DefaultSeverityWeights(), feed.weights)

	feed = NewSecondaryFeed("http://example.invalid", nil, WithSeverityWeights(SeverityWeights{High: 1}))
	assert.Equal(t, SeverityWeights{High: 1}, feed.weights)
}

func TestSanitizeURL(t *testing.T) {
	assert.Equal(t, "https://feeds.example.com", sanitizeURL("https://feeds.example.com/v1/latest?key=secret"))
	assert.Equal(t, "<invalid-url>", sanitizeURL("::not a url"))
}
