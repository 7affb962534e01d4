/*
Package pool keeps a fixed number of pre-opened connections to the rendering backend.

The pool is always one request ahead: every checkout schedules the opening of a replacement
before handing out the oldest queued connection, so requests rarely wait for a dial. A borrowed
connection belongs to its borrower until the borrower closes it; connections never return to the
queue.

The queue is owned by a single goroutine and only changes in response to checkout requests sent
over a channel, so a connection is either queued or borrowed, never both. A second goroutine
recycles one connection per interval to bound how stale an idle connection can get.
*/
package pool
