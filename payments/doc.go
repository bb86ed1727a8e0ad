// Package payments models the payment transactions that webhook events act
// on, with an in-memory store and a client for the remote payments API.
package payments
