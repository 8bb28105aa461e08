package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLoader(t *testing.T, args ...string) map[string]any {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())

	var snap map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))
	return snap
}

func TestFeedLoader_Primary(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"threats":[{"latitude":1,"longitude":2,"type":"malware","severity":"high","source_ip":"192.0.2.1"}]}`)
	}))
	defer primary.Close()

	snap := runLoader(t, "--primary-url", primary.URL, "--secondary-url", primary.URL, "--log-level", "error")
	assert.Equal(t, "primary", snap["origin"])
	assert.Equal(t, float64(1), snap["count"])
}

func TestFeedLoader_SyntheticFallback(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	snap := runLoader(t, "--primary-url", down.URL, "--secondary-url", down.URL, "--count", "7", "--log-level", "error")
	assert.Equal(t, "synthetic", snap["origin"])
	assert.Equal(t, true, snap["degraded"])
	assert.Equal(t, float64(7), snap["count"])
}

func TestFeedLoader_RejectsBadCount(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--count", "0"})
	assert.Error(t, cmd.Execute())
}
