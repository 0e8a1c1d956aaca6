// Package directory describes the user directory consumed by the tracker core.
//
// The directory answers one question: given a claimed identity, which role
// does it hold and which buses and students is it related to. The answer is
// read once when a connection authenticates and cached on the connection for
// its lifetime, so role or relationship changes require a reconnect.
//
// Implementations:
//
//   - Static: an in-memory directory, used by tests and small deployments.
//   - File: a JSON roster file loaded from disk and reloaded when it changes.
//   - The SQL event stores in package store also satisfy Directory by reading
//     the users and students tables owned by the surrounding application.
//
// Roster format:
//
//	{
//	  "users": [
//	    {"id": "driver-1", "role": "operator", "name": "Sam", "busIds": [42]},
//	    {"id": "parent-1", "role": "guardian"}
//	  ],
//	  "students": [
//	    {"id": "7", "guardianId": "parent-1", "busId": 42}
//	  ]
//	}
//
// Guardian bus links are derived from their students' bus assignments.
package directory
