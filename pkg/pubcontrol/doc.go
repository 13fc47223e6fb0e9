// Package pubcontrol publishes items to one or more EPCP-style pub/sub
// endpoints over HTTP.
//
// A Client owns one endpoint (URI plus optional Basic or JWT credentials). It
// can publish synchronously, or asynchronously through a lazily started
// per-endpoint worker that batches up to MaxBatch queued requests per HTTP
// call and reports each request's outcome through its Callback.
//
// PubControl groups several clients and broadcasts to all of them. An async
// broadcast collapses the per-endpoint outcomes into a single callback
// invocation using an Aggregator.
//
// # Shutdown contract
//
// Async work is only guaranteed to be flushed after Finish returns. Finish
// enqueues a stop marker and waits for the worker to exit; requests enqueued
// behind that marker are discarded, so callers must not publish to a client
// while its Finish is in progress. Nothing calls Finish implicitly.
package pubcontrol
