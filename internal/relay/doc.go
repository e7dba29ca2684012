// Package relay implements the group routing and answer-arbitration engine.
//
// Connections join groups keyed by a caller-supplied string in one of two namespaces.
// Broadcast groups fan master messages out to every slave. Arbitrated groups also
// track each broadcast question until the first slave answer with a matching message
// id is forwarded to the master; later answers for that id are dropped.
//
// All group state is owned by a single Engine goroutine (actor pattern). Ingress
// commands and scheduler ticks are processed one at a time, so no locks guard the
// directory or the groups.
package relay
