/*
Package events provides an in-memory broker for relation and node events.

The engines publish an Event whenever an instance becomes connected or
available, departs, or when a node is registered or removed. Publish is
non-blocking for subscribers: each has a buffer of 50 and events are dropped
for a subscriber whose buffer is full.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.Metadata["hostname"])
	}

Events are not persisted; the relation state in package storage is the
source of truth.
*/
package events
