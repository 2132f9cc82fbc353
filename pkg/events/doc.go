/*
Package events provides an in-memory event broker for Strata's cluster events.

Components publish events when something operators care about happens: a node
goes stale or dead, a replication command is sent or refused because its
source is overloaded, a pending operation expires. Subscribers (the CLI, log
shippers, tests) receive them asynchronously.

# Architecture

	Publisher ──► event queue (256) ──► broadcast loop ──► subscriber (64 each)
	                                                  └──► subscriber (64 each)

Publish never blocks. A full queue drops the event and logs a warning; a full
subscriber misses the event. Delivery is therefore best effort and events must
not be used to drive state, only to observe it.

# Event Types

	node.registered, node.removed          registry membership
	node.stale, node.dead, node.healthy    heartbeat health transitions
	node.state_changed                     operational state (maintenance, decommission)
	container.misreplicated                reconciler found a placement violation
	replication.command.sent               dispatcher queued a copy command
	replication.overloaded                 dispatcher refused a source over its limit
	pendingop.expired                      an in-flight ADD/DELETE passed its deadline

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.Message, ev.Metadata)
	}

Components that do not need events take events.Discard{}.
*/
package events
