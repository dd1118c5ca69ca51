package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statflow/internal/domain"
)

func TestCurlHostForListenAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		listenAddr string
		want       string
	}{
		{name: "default listen addr", listenAddr: ":8080", want: "localhost:8080"},
		{name: "loopback", listenAddr: "127.0.0.1:9000", want: "127.0.0.1:9000"},
		{name: "wildcard ipv4", listenAddr: "0.0.0.0:8080", want: "localhost:8080"},
		{name: "wildcard ipv6", listenAddr: "[::]:8080", want: "localhost:8080"},
		{name: "ipv6 loopback", listenAddr: "[::1]:8080", want: "[::1]:8080"},
		{name: "padded", listenAddr: "  :7070  ", want: "localhost:7070"},
		{name: "unset", listenAddr: "", want: "localhost:8080"},
		{name: "no port", listenAddr: "statflow.internal", want: "statflow.internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, curlHostForListenAddr(tt.listenAddr))
		})
	}
}

func TestStartupHints(t *testing.T) {
	t.Parallel()

	hints := startupHints("0.0.0.0:9090")
	require.Len(t, hints, 3)
	assert.Equal(t, "curl http://localhost:9090/v1/resolve/CME_MRY0T4", hints[0])
	assert.Equal(t, "open http://localhost:9090/ui/", hints[2])

	// The example query body must be a valid request for /v1/query.
	_, body, ok := strings.Cut(hints[1], "-d '")
	require.True(t, ok, hints[1])
	var spec domain.QuerySpec
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(body, "'")), &spec))
	require.NoError(t, spec.Normalize().Validate())
	assert.Equal(t, []string{"CME_MRY0T4"}, spec.Indicators)
	assert.Equal(t, domain.YearRangeOf(2015, 2020), spec.Years)
}
