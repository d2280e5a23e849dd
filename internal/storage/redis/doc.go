// Package redis stores ContentFlow session contexts in Redis. Each session is
// one JSON value whose key expiry implements the session TTL.
package redis
