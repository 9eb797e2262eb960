// Package relay implements the routing and correlation engine at the
// center of the mesh: any node can accept a call addressed to any
// other node, flood it, and return the correlated response to the
// caller.
//
// The underlying medium is a flood with at-least-once delivery, so the
// router keeps its own processed-id record and drops duplicates before
// execution; transport-internal suppression is never relied upon. An
// issuing caller blocks on a per-request channel until the response
// arrives or its deadline elapses, and a response with no matching
// pending entry is silently dropped, which is also how tardy responses
// after a timeout are absorbed.
//
// There is no hop-count or TTL on the envelopes: propagation is
// bounded only by per-id deduplication plus the age-based retirement
// of the dedup record. A duplicate outliving its record would be
// processed again; with a 30s retirement age and 5-15s call deadlines
// this stays theoretical, but it is a known gap rather than a design
// guarantee.
package relay
