package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hugh/scanhub/internal/api/handlers"
	"github.com/hugh/scanhub/internal/api/middleware"
	"github.com/hugh/scanhub/internal/events"
	"github.com/hugh/scanhub/internal/testutil"
	"github.com/hugh/scanhub/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSubscriber struct{}

func (failingSubscriber) Subscribe(context.Context) (<-chan events.Event, func(), error) {
	return nil, nil, errors.New("redis down")
}

func eventsServer(t *testing.T, sub events.Subscriber) (*httptest.Server, *testutil.TestSetup) {
	tc := testutil.NewTestContext(t)
	handler := handlers.NewEventsHandler(sub, nil, util.NewDiscardLogger())

	r := chi.NewRouter()
	r.Use(middleware.Auth(tc.JWTService))
	r.Get("/api/v1/scans/events", handler.Stream)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, tc
}

func TestEventsHandler_StreamsOwnEvents(t *testing.T) {
	hub := events.NewHub()
	srv, tc := eventsServer(t, hub)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/scans/events"
	header := http.Header{"Authorization": []string{"Bearer " + tc.Token}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	mine := events.Event{ScanID: uuid.New(), OwnerID: tc.User.ID, ScanType: "port", Status: "running", At: time.Now().UTC()}
	theirs := events.Event{ScanID: uuid.New(), OwnerID: uuid.New(), ScanType: "ssl", Status: "completed", At: time.Now().UTC()}

	// The subscription is registered before the upgrade completes, so
	// events published now are delivered.
	require.NoError(t, hub.Publish(context.Background(), theirs))
	require.NoError(t, hub.Publish(context.Background(), mine))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, mine.ScanID, got.ScanID)
	assert.Equal(t, "running", got.Status)
}

func TestEventsHandler_RequiresAuth(t *testing.T) {
	srv, _ := eventsServer(t, events.NewHub())

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/scans/events"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventsHandler_SubscribeFailure(t *testing.T) {
	srv, tc := eventsServer(t, failingSubscriber{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/scans/events"
	header := http.Header{"Authorization": []string{"Bearer " + tc.Token}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
