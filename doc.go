// Package txflow and its sub-packages implement the backend services that manage the full lifecycle of a transfer
// transaction on an Odiseo (Cosmos-style) blockchain: account resolution, transaction building, wallet signing,
// message format conversion, broadcast and confirmation tracking.
/*
txflow provides you with two microservices:

1) a pipeline microservice (package pipeline) that implements a RESTful API for clients to resolve accounts, run the
 transfer pipeline (build an unsigned transaction, sign it through a wallet capability, convert the signed messages
 to the node's broadcast format and submit them) and query the status of tracked transactions.

2) a tracker microservice (package tracker) that watches broadcast transactions until they are confirmed on chain,
 publishing status events as signatures are collected and the transaction is included in a block.

Architecture

The pipeline and tracker services communicate via a message broker. After a successful broadcast the pipeline
publishes a track request so the tracker starts polling the transaction status endpoint for that identifier. While
polling, the tracker publishes status events that interested consumers (such as a dashboard) can subscribe to. The
message broker is implemented as a product agnostic layer (package lib/msg) and is configured via a JSON config file
at service startup.

Both services share a status store holding the latest snapshot of every tracked transaction. Its layered
implementation (package lib/store) provides a database product agnostic interface with MongoDB and PostgreSQL
implementations.

The data model of the transfer transaction itself, the deterministic transaction builder and the converter between
the wallet's signing message format and the node's broadcast message format live in package lib/tx. The wallet
signing capability is consumed through package lib/wallet, which also normalizes the different public key and
signature encodings wallets return. All remote HTTP interactions with the chain node and the status endpoint go
through package lib/node.

Depending on workload and resources, one or more instances of the microservices can be orchestrated in order to
provide the required service level to the users.

The microservices can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Pipeline

The pipeline microservice (package pipeline) can be started running cmd/pipeline/main.go. It exposes an HTTP RESTful
API to resolve accounts, send transfer transactions and manage the tracking of broadcast transactions. Every stage of
the pipeline fails closed with a classified error (package lib/tx) so clients can distinguish user-actionable
conditions (wallet unavailable, signature rejected) from transient ones (network errors, sequence mismatches).

Tracker

The tracker microservice (package tracker) can be started running cmd/tracker/main.go. It consumes track requests
from the broker and runs one cancellable watcher per transaction (package tracker/txwatcher), polling at a fixed
interval under a bounded retry budget. Exhausting the budget yields a distinct timeout error because the chain status
is unknown at that point, not negative.
*/
package txflow
