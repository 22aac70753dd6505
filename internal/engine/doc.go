// Package engine exposes the three operations of a collection: index,
// search and status.
//
// Each root folder maps to one collection directory under the data dir,
// named by the first 12 hex characters of the sha256 of the canonical root:
//
//	~/.codesight/data/3f9a1c07be42/index.db
//
// Opening a collection repairs any half-written state left by a crash,
// then rebuilds the in-memory hash ledger from the store. A Registry keeps
// one Engine per root for long-running servers.
//
// Searches may ask for a refresh. A blocking refresh waits for a pass
// before querying; a background refresh starts one if none is running and
// queries what is already committed. A collection that has never been
// indexed always gets a blocking pass.
package engine
