// Package scrubber deletes cache entries when named trigger events fire.
//
// Callers schedule a key against one or more events with ScheduleDeletion.
// The pairing is persisted in a schedule.Store, and the engine binds its scrub
// handler to each event on the bus. When an event fires, every key scheduled
// against it is deleted from the cache and removed from the schedule. After a
// restart, Initialize rebuilds the bindings from the persisted schedule alone.
package scrubber
