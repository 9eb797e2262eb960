// Package meshnet provides the broadcast mesh transport primitive the
// coordinator is built on, as a contract plus two implementations:
// MemoryHub for in-process testing and UDPMesh for real deployments
// over UDP subnet broadcast.
//
// The transport is deliberately weak: at-least-once flood delivery to
// every reachable node, no ordering, no acknowledgment, and broadcasts
// echoed back to their sender. Protocol-level deduplication lives in
// the relay package and must not be pushed down here.
package meshnet
