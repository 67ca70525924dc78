// Package sessions holds in-flight handshake state between step 1 and step 2,
// evicting anything older than a fixed TTL.
package sessions
