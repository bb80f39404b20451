// Package schedule runs keyed, delayed tasks for the gateway.
//
// # Task Keys
//
// Tasks are tracked per (DeviceID, Kind) pair. Scheduling a task under a key
// that already has a pending task replaces it, so at most one task of a kind
// is ever pending for a device.
//
// # Firing
//
// When a task's delay elapses it is removed from the manager and the OnFire
// callback runs outside the manager lock with the task's key and value. A
// cancelled task never fires.
//
// # Shutdown
//
// Stop cancels every pending task. Tasks scheduled after Stop are rejected.
package schedule
