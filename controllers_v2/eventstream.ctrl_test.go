package v2controllers

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db/models"
	"github.com/payhub/payhub.go/lib/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ziflex/lecho/v3"
)

func TestStreamEvents(t *testing.T) {
	svc := &service.PayhubService{
		Logger:      lecho.New(io.Discard),
		EventPubSub: service.NewPubsub(),
	}
	e := echo.New()
	e.GET("/v2/events/stream", NewEventStreamController(svc).StreamEvents)
	server := httptest.NewServer(e)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v2/events/stream?type=" + common.NotificationPaymentConfirmed
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	msg := EventWrapper{}
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "keepalive", msg.Type)

	assert.Eventually(t, func() bool {
		return svc.EventPubSub.SubscriberCount(common.NotificationPaymentConfirmed) == 1
	}, time.Second, 10*time.Millisecond)

	svc.EventPubSub.Publish(common.NotificationPaymentConfirmed, models.Notification{
		ID:        "n1",
		Type:      common.NotificationPaymentConfirmed,
		InvoiceID: 42,
	})
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, int64(42), msg.Event.InvoiceID)

	ws.Close()
	assert.Eventually(t, func() bool {
		return svc.EventPubSub.SubscriberCount(common.NotificationPaymentConfirmed) == 0
	}, time.Second, 10*time.Millisecond)
}
