// Package recordstore is the typed HTTP client for the external Data API
// that holds all catalog records. It owns the session-token lifecycle
// (acquire, refresh on 401 with a single retry, release), paginates find
// results transparently, treats 404 on a find as an empty result, and
// uploads binary containers.
package recordstore
