// Package typewriter paces the reveal of streamed text. Network chunks arrive
// in bursts; the Throttle buffers them per node and releases a proportional
// slice of each backlog on every tick so the visible text grows smoothly and
// catches up with large bursts within a bounded number of ticks.
package typewriter
