// Package store persists sensor readings and the mesh topology
// summary. The canonical layout is one append-only JSON-lines log per
// node id ever observed plus a topology file rewritten each cycle,
// with filenames derived deterministically from node ids. A
// PostgreSQL-backed readings store is available for gateways that
// aggregate many nodes.
package store
