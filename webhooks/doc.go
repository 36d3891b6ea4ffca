// Package webhooks delivers protocol events to external subscribers over
// HTTP. The deliverer plugs into the outbox dispatcher's handler registry,
// so retry and dead-lettering stay with the outbox; this package owns
// signing, filtering, and burst coalescing.
package webhooks
