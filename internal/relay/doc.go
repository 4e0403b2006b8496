// Package relay moves newline-delimited text between streams.
//
// A LineRelay copies lines from a source reader to a sink writer and flushes
// after each one, so the downstream process sees every line as soon as it is
// complete. A Drain hands each line from a source reader to a callback.
// Neither interprets the content beyond locating line boundaries.
//
// Both run as a Task. A task ends when its source reaches end of stream, when
// a read or write fails, or when it is cancelled; failures are reported to an
// optional ErrorHook and recorded in the task's Result but are never
// propagated to the caller that started it.
package relay
