// Package logging provides structured JSON logging with size-based file
// rotation. Log files live under the clementine data directory so that
// long-running sync runners and one-shot CLI invocations share a single
// log stream.
package logging
