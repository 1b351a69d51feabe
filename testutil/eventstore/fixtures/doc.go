// Package fixtures provides event bodies and commit attempt builders for eventstore tests.
//
// The event bodies come from a small library management domain. The builders produce valid
// CommitAttempts and commit them against any eventstore.CommitEvents, so engine tests read
// like the acceptance tests they are.
package fixtures
