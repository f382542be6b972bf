/*
Package concurrency provides concurrency primitives.

Features:
  - WorkerPool: bounded goroutine pool, used for per-queue pipeline fan-out
*/
package concurrency
