package redis

import "tripshare/internal/store"

// Ensure concrete types implement interfaces.
var (
	_ store.TripStore     = (*TripStore)(nil)
	_ store.DeletionQueue = (*DeletionQueue)(nil)
	_ store.Locker        = (*LockStore)(nil)
)
