package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerServesMetrics(t *testing.T) {
	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	ReassembledBytesTotal.WithLabelValues(KindIP).Add(42)

	resp, err := http.Get(s.URL())
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pktstack_reassembled_bytes_total")
}

func TestServerBindError(t *testing.T) {
	s := NewServer("127.0.0.1:0", "/m")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	dup := NewServer(s.Addr(), "/m")
	assert.Error(t, dup.Start(context.Background()))
}

func TestStopWithoutStart(t *testing.T) {
	assert.NoError(t, NewServer(":0", "").Stop(context.Background()))
}
