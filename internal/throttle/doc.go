// Package throttle decides whether an alert was already sent recently.
//
// A Gate maps alert content to a key ("kind:" + fnv-64a of the content) and
// reserves it until a policy-defined time. Reservation is atomic per backend:
// the store backend serializes under a process mutex, the redis backend uses
// SET NX so several daemons can share one window.
package throttle
