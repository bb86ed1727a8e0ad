// Package webhook provides durable, at-least-once delivery of payment
// lifecycle events.
//
// Events move through a small state machine:
//
//	Pending -> Processing -> Delivered
//	                      -> Pending (retry scheduled with backoff)
//	                      -> Failed  (retries exhausted)
//	Failed  -> Pending (operator requeue)
//
// A Queue persists events in a Store, claims due events in batches and runs
// them through a Handler. Every event gets a unique "whk_" idempotency key;
// handlers must tolerate redelivery.
//
// # Usage
//
//	mux := webhook.NewMux()
//	webhook.NewPaymentHandler(txStore, logger).Register(mux)
//	q := webhook.NewQueue(webhook.NewMemoryStore(), mux, webhook.Config{})
//	go q.Run(ctx)
//	ev, err := q.Enqueue(ctx, "payment.success", payload, "tx123", nil)
package webhook
