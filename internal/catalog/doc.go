// Package catalog defines the record and frame data model, the tagged status
// state machine, and the ordered stage sets that the pipeline advances
// records through. It also declares the Store contract the orchestration
// core requires from the external record store.
package catalog
