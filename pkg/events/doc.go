/*
Package events provides the in-memory event broker of the terrapool daemon.

Provisioning attempts and agents publish lifecycle events; the metrics
collector and any API streaming client subscribe to them.

# Architecture

	┌──────────── EVENT BROKER ─────────────┐
	│                                        │
	│  Publisher → Event Channel (100)       │
	│        ↓                               │
	│  Broadcast Loop                        │
	│        ↓                               │
	│  Subscriber Channels (50 each)         │
	└────────────────────────────────────────┘

Event types:

	attempt.started     name reserved, terraform about to run
	attempt.status      an attempt moved to a new status
	attempt.succeeded   apply finished, agent created
	attempt.failed      attempt failed (after any compensating destroy)
	agent.online        agent completed the connection handshake
	agent.offline       agent stopped reporting activity
	agent.terminated    agent destroyed and removed from the registry

# Delivery

Publish never blocks. Events are dropped when the broker queue is full and
skipped for a subscriber whose buffer is full, so slow consumers cannot stall
provisioning. Publishing on a nil *Broker is a no-op, which lets components
run without a broker in tests.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.Agent)
	}
*/
package events
