// Package task runs course generation as durable background jobs.
//
// An Engine owns one Task per course and a single FIFO queue of QueueItems
// shared by all courses. Run drains the queue with one worker, so at most one
// generation request is in flight at any time. Each item is handled by the
// executor registered for its kind (structure, content or subchapter), which
// calls the generation service and may enqueue follow-up items.
//
// The engine snapshots its tasks and queue to a store.SnapshotStore after
// every state change. Restore downgrades interrupted work to idle and never
// resumes it without an explicit Resume.
package task
