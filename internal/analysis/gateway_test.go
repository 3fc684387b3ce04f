package analysis

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsoc/iocwatch/internal/ioc"
	"github.com/sentinelsoc/iocwatch/internal/store"
)

func TestNewGatewayDisabledWithoutKey(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")

	gw, err := NewGateway("", "some-model", "", log.New(io.Discard, "", 0))
	require.NoError(t, err)
	assert.Nil(t, gw, "missing key disables the gateway, it is not an error")
}

func TestNewGatewayRequiresModel(t *testing.T) {
	_, err := NewGateway("", "", "sk-test", log.New(io.Discard, "", 0))
	assert.Error(t, err)
}

func TestTriageNote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Block the IP at the perimeter and review recent flows."}}]}`)
	}))
	defer server.Close()

	gw, err := NewGateway(server.URL, "test-model", "sk-test", log.New(io.Discard, "", 0))
	require.NoError(t, err)
	require.NotNil(t, gw)

	prev, last := 20, 72
	note, err := gw.TriageNote(context.Background(), store.Alert{
		Severity:       "high",
		IndicatorType:  ioc.TypeIP,
		IndicatorValue: "203.0.113.5",
		Body:           "Reputation changed from 20 to 72",
	}, store.WatchlistItem{
		PreviousRiskScore: &prev,
		LastRiskScore:     &last,
		IsMalicious:       true,
	})
	require.NoError(t, err)
	assert.Contains(t, note, "Block the IP")
}

func TestTriageNoteGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	gw, err := NewGateway(server.URL, "test-model", "sk-test", log.New(io.Discard, "", 0))
	require.NoError(t, err)

	_, err = gw.TriageNote(context.Background(), store.Alert{}, store.WatchlistItem{})
	assert.Error(t, err)
}
