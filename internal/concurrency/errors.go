// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "errors"

// ErrExecutorClosed indicates the executor has been shut down.
var ErrExecutorClosed = errors.New("executor is closed")

// ErrQueueFull indicates the executor's task queue is at capacity.
var ErrQueueFull = errors.New("executor queue is full")
