package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateway struct {
	mu     sync.Mutex
	pushes []Push
	status int
}

func (g *gateway) handler(w http.ResponseWriter, r *http.Request) {
	var p Push
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	g.mu.Lock()
	g.pushes = append(g.pushes, p)
	g.mu.Unlock()
	if g.status != 0 {
		w.WriteHeader(g.status)
	}
}

func (g *gateway) received() []Push {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Push(nil), g.pushes...)
}

func TestSendEvent_CollapseKeyIsCameraID(t *testing.T) {
	g := &gateway{}
	srv := httptest.NewServer(http.HandlerFunc(g.handler))
	defer srv.Close()

	p := NewPusher(srv.URL, "tok")
	camID := uuid.New()
	eventID := uuid.New()

	p.SendEvent(context.Background(), camID, eventID, "Driveway", "A person walking", "http://x/t.jpg", false)

	pushes := g.received()
	require.Len(t, pushes, 1)
	assert.Equal(t, KindEvent, pushes[0].Kind)
	assert.Equal(t, camID.String(), pushes[0].CollapseKey)
	assert.Equal(t, PriorityNormal, pushes[0].Priority)
	assert.Equal(t, "A person walking", pushes[0].Body)
}

func TestSendEvent_VIPPromoted(t *testing.T) {
	g := &gateway{}
	srv := httptest.NewServer(http.HandlerFunc(g.handler))
	defer srv.Close()

	p := NewPusher(srv.URL, "")
	p.SendEvent(context.Background(), uuid.New(), uuid.New(), "Gate", "Jane arrived", "", true)

	pushes := g.received()
	require.Len(t, pushes, 1)
	assert.Equal(t, KindVIP, pushes[0].Kind)
	assert.Equal(t, PriorityHigh, pushes[0].Priority)
}

func TestSendDoorbellRing(t *testing.T) {
	g := &gateway{}
	srv := httptest.NewServer(http.HandlerFunc(g.handler))
	defer srv.Close()

	p := NewPusher(srv.URL, "")
	ts := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	p.SendDoorbellRing(context.Background(), uuid.New(), "Front Door", "http://x/t.jpg", ts)

	pushes := g.received()
	require.Len(t, pushes, 1)
	assert.Equal(t, KindDoorbellRing, pushes[0].Kind)
	assert.Equal(t, PriorityHigh, pushes[0].Priority)
	assert.True(t, pushes[0].Timestamp.Equal(ts))
}

func TestSend_GatewayErrorSurfaces(t *testing.T) {
	g := &gateway{status: http.StatusBadGateway}
	srv := httptest.NewServer(http.HandlerFunc(g.handler))
	defer srv.Close()

	p := NewPusher(srv.URL, "")
	err := p.Send(context.Background(), &Push{Kind: KindEvent, Body: "x"})
	assert.ErrorContains(t, err, "502")
}

func TestSend_Unconfigured(t *testing.T) {
	p := NewPusher("", "")
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Send(context.Background(), &Push{Kind: KindEvent}))
}
