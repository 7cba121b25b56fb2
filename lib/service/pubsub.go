package service

import (
	"sync"

	"github.com/google/uuid"
	"github.com/payhub/payhub.go/db/models"
)

// EventTopicAll receives every notification regardless of its type.
const EventTopicAll = "all"

type Pubsub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan models.Notification
}

func NewPubsub() *Pubsub {
	ps := &Pubsub{}
	ps.subs = make(map[string]map[string]chan models.Notification)
	return ps
}

func (ps *Pubsub) Subscribe(topic string, ch chan models.Notification) (subId string, err error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.subs[topic] == nil {
		ps.subs[topic] = make(map[string]chan models.Notification)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	subId = id.String()
	ps.subs[topic][subId] = ch
	return subId, nil
}

func (ps *Pubsub) Unsubscribe(id string, topic string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.subs[topic] == nil {
		return
	}
	if ps.subs[topic][id] == nil {
		return
	}
	close(ps.subs[topic][id])
	delete(ps.subs[topic], id)
}

// Publish never blocks: a subscriber whose channel is full misses the message.
func (ps *Pubsub) Publish(topic string, msg models.Notification) (dropped int) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, ch := range ps.subs[topic] {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	return dropped
}

func (ps *Pubsub) SubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subs[topic])
}
