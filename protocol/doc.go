// Package protocol defines the wire envelopes exchanged between mesh
// nodes and the shared configuration for the coordinator components.
//
// All envelopes are JSON objects discriminated by a "type" field:
//
//   - relay_request / relay_response implement the request/response
//     correlation protocol flooded over the mesh transport
//   - node_announce is the identity envelope flooded over the mesh
//   - AgriNodeDiscover is the cross-subnet UDP discovery packet
//
// The mesh transport delivers messages best-effort, unordered, and
// possibly more than once. Nothing in this package assumes otherwise:
// requests carry caller-generated correlation ids, and receivers are
// expected to deduplicate by id (see the relay package).
package protocol
