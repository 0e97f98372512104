// Package procq provides an in-process callback queue: producers push values
// of any type, and a single background worker pops each value in FIFO order and
// runs every registered callback against it before discarding it.
//
// Highlights:
// - New/NewWithOptions: install up to MaxCallbacks callbacks and start the worker
// - AddCallback: append a callback at any time; it sees elements dequeued after it
// - Push/PushAll/Feed: enqueue values; never blocks, rejected once Stop was requested
// - Pop/Front/Back/Size/Empty: inspect or trim pending elements under the queue lock
// - Stop/Shutdown: drain every accepted element, then join the worker
// - Compose/When: fold several behaviors into one callback slot
//
// Callbacks run on the worker goroutine, one element at a time, in registration
// order. They receive a pointer to a working copy of the element, so a callback
// observes the changes made by the callbacks registered before it. Callbacks may
// call back into the queue (Push, AddCallback, Size, ...) but must not call Stop
// or Shutdown, which wait for the worker they are running on.
package procq
