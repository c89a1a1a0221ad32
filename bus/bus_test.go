// bus/bus_test.go
package bus

import (
	"testing"
	"time"
)

const (
	TopicConfig = "config"
	TopicGeo    = "geo"
)

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T(TopicConfig, TopicGeo))

	msg := conn.NewMessage(T(TopicConfig, TopicGeo), "hello", false)
	conn.Publish(msg)

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "hello" {
			t.Errorf("expected payload 'hello', got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestNonRetainedMessageNotSeenByLateSubscriber(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T(TopicConfig, TopicGeo), "gone", false))
	sub := conn.Subscribe(T(TopicConfig, TopicGeo))

	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message delivered to late subscriber: %v", got.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	msg := conn.NewMessage(T(TopicConfig, TopicGeo), "persist", true)
	conn.Publish(msg)

	sub := conn.Subscribe(T(TopicConfig, TopicGeo))

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "persist" {
			t.Errorf("expected retained payload 'persist', got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for retained message")
	}
}

func TestRetainedMessageUpdatesOnRepublish(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T(TopicConfig, TopicGeo), "first", true))
	conn.Publish(conn.NewMessage(T(TopicConfig, TopicGeo), "second", true))

	sub := conn.Subscribe(T(TopicConfig, TopicGeo))

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "second" {
			t.Errorf("expected latest retained payload 'second', got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for retained message")
	}
}

func TestDistinctTopicsDoNotCrossDeliver(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	subA := conn.Subscribe(T("comms", "1", 0))
	subB := conn.Subscribe(T("comms", "2", 0))

	conn.Publish(conn.NewMessage(T("comms", "1", 0), "for-a", true))

	select {
	case got := <-subA.Channel():
		if got.Payload.(string) != "for-a" {
			t.Errorf("expected 'for-a', got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message on subA")
	}

	select {
	case got := <-subB.Channel():
		t.Fatalf("unexpected message delivered on unrelated topic: %v", got.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultipleSubscribersReceiveBroadcast(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	sub1 := conn.Subscribe(T(TopicConfig, TopicGeo))
	sub2 := conn.Subscribe(T(TopicConfig, TopicGeo))

	conn.Publish(conn.NewMessage(T(TopicConfig, TopicGeo), "hello", false))

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case got := <-sub.Channel():
			if got.Payload.(string) != "hello" {
				t.Errorf("expected payload 'hello', got %v", got.Payload)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}
}

func TestSubscriberChannelDropsOldestWhenFull(t *testing.T) {
	b := NewBus(1)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T(TopicConfig, TopicGeo))

	conn.Publish(conn.NewMessage(T(TopicConfig, TopicGeo), "old", false))
	conn.Publish(conn.NewMessage(T(TopicConfig, TopicGeo), "new", false))

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "new" {
			t.Errorf("expected the newest message to survive, got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}
