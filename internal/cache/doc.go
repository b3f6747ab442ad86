// Package cache wraps the named request/response storage with request
// normalisation, namespaced cache names, bulk helpers and a JSON metadata
// side-store kept inside a reserved cache.
//
// Operations are not transactional. Clear is a best-effort sweep and the
// metadata record of a cache is rewritten whole on every update, so
// concurrent writers to the same record race with last-write-wins.
package cache
