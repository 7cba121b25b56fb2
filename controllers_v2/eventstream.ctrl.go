package v2controllers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/payhub/payhub.go/db/models"
	"github.com/payhub/payhub.go/lib/service"
)

// EventStreamController : live notifications over a websocket
type EventStreamController struct {
	svc *service.PayhubService
}

type EventWrapper struct {
	Type  string               `json:"type"`
	Event *models.Notification `json:"event,omitempty"`
}

func NewEventStreamController(svc *service.PayhubService) *EventStreamController {
	return &EventStreamController{svc: svc}
}

// StreamEvents streams notifications of one type, or all of them, to the client
func (controller *EventStreamController) StreamEvents(c echo.Context) error {
	topic := c.QueryParam("type")
	if topic == "" {
		topic = service.EventTopicAll
	}
	eventChan := make(chan models.Notification, 100)
	subId, err := controller.svc.EventPubSub.Subscribe(topic, eventChan)
	if err != nil {
		return err
	}
	defer controller.svc.EventPubSub.Unsubscribe(subId, topic)

	upgrader := websocket.Upgrader{}
	upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	//start listening for close messages
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, _, err := ws.ReadMessage()
			if err != nil {
				return
			}
		}
	}()

	//start with keepalive message
	if err = ws.WriteJSON(&EventWrapper{Type: "keepalive"}); err != nil {
		controller.svc.Logger.Error(err)
		return nil
	}
	for {
		select {
		case <-done:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
			if err := ws.WriteJSON(&EventWrapper{Type: "keepalive"}); err != nil {
				controller.svc.Logger.Error(err)
				return nil
			}
		case event := <-eventChan:
			if err := ws.WriteJSON(&EventWrapper{Type: "event", Event: &event}); err != nil {
				controller.svc.Logger.Error(err)
				return nil
			}
		}
	}
}
