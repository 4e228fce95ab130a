/*
Package event provides the occurrence-counter bookkeeping and outgoing-event
batching the transaction engine is built on.

Every event id carries a per-scope occurrence counter that only moves
forward. A CounterTable holds the counters for one scope (one per device,
one per client); entries are created lazily the first time an id is
referenced by a submission or a trigger delivery.

Outgoing success and error events are not delivered inline. They are pushed
onto a caller-local Batch while the engine holds its per-client lock, and
the whole batch is handed to a Deliverer only after the lock is released.
That keeps interrupt-context dispatch from ever re-entering the delivery
path with the lock held.
*/
package event
