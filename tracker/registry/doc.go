// Package registry tracks the live, authenticated connection of each user.
//
// A Registry holds at most one Connection per user id. Each Connection
// carries the user's role and the bus and student links captured when it
// authenticated, so routing decisions can be made from a snapshot without
// consulting the directory again.
//
// All methods are safe for concurrent use. Lookup methods return snapshots
// taken under a read lock; callers deliver frames after the lock is
// released.
//
// Lifecycle:
//
//	conn := registry.NewConnection(user, client)
//	if prev, _ := reg.Register(conn); prev != nil {
//		prev.Handle.Close()
//	}
//	defer reg.Release(conn)
//
// Release only removes the entry if it still belongs to conn, which keeps a
// late disconnect of a superseded connection from evicting its replacement.
package registry
