// Package queue implements persisted single-worker lanes.
//
// Each Lane owns one named job stream. Enqueue only persists and wakes the
// lane; a single dispatch loop claims jobs in FIFO order and runs the lane
// task. A job row is removed after its task returns, whatever the outcome.
package queue
