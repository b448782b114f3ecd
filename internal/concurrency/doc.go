// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-process concurrency primitives used to bridge burst poll loops and
// connection-handshake paths to bounded worker pools: a CAS-based task
// queue backing Executor, and a lock-free SPSC ring buffer for strictly
// single-producer/single-consumer pipelines.
package concurrency
