package service

import (
	"testing"

	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db/models"
	"github.com/stretchr/testify/assert"
)

func TestPubsubPublishSubscribe(t *testing.T) {
	ps := NewPubsub()
	ch := make(chan models.Notification, 1)
	subId, err := ps.Subscribe(EventTopicAll, ch)
	assert.NoError(t, err)
	assert.NotEmpty(t, subId)
	assert.Equal(t, 1, ps.SubscriberCount(EventTopicAll))

	dropped := ps.Publish(EventTopicAll, models.Notification{Type: common.NotificationInvoiceExpired, InvoiceID: 3})
	assert.Equal(t, 0, dropped)
	msg := <-ch
	assert.Equal(t, int64(3), msg.InvoiceID)

	ps.Unsubscribe(subId, EventTopicAll)
	assert.Equal(t, 0, ps.SubscriberCount(EventTopicAll))
	_, open := <-ch
	assert.False(t, open)
}

func TestPubsubPublishDoesNotBlock(t *testing.T) {
	ps := NewPubsub()
	slow := make(chan models.Notification)
	_, err := ps.Subscribe(common.NotificationPaymentConfirmed, slow)
	assert.NoError(t, err)

	dropped := ps.Publish(common.NotificationPaymentConfirmed, models.Notification{})
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, ps.Publish("unknown-topic", models.Notification{}))
}
