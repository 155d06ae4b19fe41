// Package eventloop provides the single logical dispatch thread each
// lifecycle component runs its callbacks on.
//
// Looper drains posted functions on one goroutine in FIFO order. Queue holds
// posted functions until Drain is called, which lets tests decide exactly when
// an asynchronous callback (such as a bind completing) is delivered.
package eventloop
