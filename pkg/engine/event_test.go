package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/germanamz/stepwise/pkg/driver"
)

func TestEventBus_SubscribePublish(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe(8)
	defer bus.Unsubscribe(sub)

	bus.Publish(driver.Event{
		Kind:      driver.EventTurnStarted,
		SessionID: "s1",
		Flow:      "calculator",
		Turn:      1,
		Timestamp: time.Now(),
	})

	select {
	case got := <-sub.C:
		assert.Equal(t, driver.EventTurnStarted, got.Kind)
		assert.Equal(t, "s1", got.SessionID)
		assert.Equal(t, "calculator", got.Flow)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_FanOut(t *testing.T) {
	bus := NewEventBus()
	sub1 := bus.Subscribe(4)
	sub2 := bus.Subscribe(4)
	defer bus.Unsubscribe(sub1)
	defer bus.Unsubscribe(sub2)

	bus.Observer()(driver.Event{Kind: driver.EventToolCalled, Tool: "calculate"})

	for i, sub := range []*Subscription{sub1, sub2} {
		select {
		case got := <-sub.C:
			assert.Equal(t, "calculate", got.Tool)
		case <-time.After(time.Second):
			t.Fatalf("sub%d did not receive event", i+1)
		}
	}
}

func TestEventBus_FullBufferDrops(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe(1)
	defer bus.Unsubscribe(sub)

	bus.Publish(driver.Event{Kind: driver.EventModelReplied})
	bus.Publish(driver.Event{Kind: driver.EventFinished})

	got := <-sub.C
	assert.Equal(t, driver.EventModelReplied, got.Kind)

	select {
	case <-sub.C:
		t.Fatal("expected channel to be empty after drop")
	default:
	}
	assert.Equal(t, int64(1), sub.Dropped())
}

func TestEventBus_KindFilter(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe(4, driver.EventModelReplied, driver.EventFinished)
	defer bus.Unsubscribe(sub)

	bus.Publish(driver.Event{Kind: driver.EventTurnStarted})
	bus.Publish(driver.Event{Kind: driver.EventModelReplied, Text: "FINAL_ANSWER: [4]"})
	bus.Publish(driver.Event{Kind: driver.EventToolCalled})
	bus.Publish(driver.Event{Kind: driver.EventFinished})

	assert.Equal(t, driver.EventModelReplied, (<-sub.C).Kind)
	assert.Equal(t, driver.EventFinished, (<-sub.C).Kind)
	assert.Empty(t, sub.C)
	assert.Zero(t, sub.Dropped())
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe(4)

	bus.Unsubscribe(sub)

	_, ok := <-sub.C
	assert.False(t, ok, "channel should be closed after unsubscribe")

	bus.Unsubscribe(sub)
}

func TestEventBus_PublishNoSubscribers(t *testing.T) {
	NewEventBus().Publish(driver.Event{Kind: driver.EventCorrected})
}
