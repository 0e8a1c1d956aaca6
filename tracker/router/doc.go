// Package router turns inbound frames into outcomes.
//
// Every non-auth frame requires a prior successful auth on the same Peer.
// Authorization is evaluated per frame against the role captured at auth:
//
//	location_update  operator, administrator  persisted
//	chat_message     any role                 persisted
//	student_status   operator, administrator
//	emergency        any role
//
// Recipients are computed from the registry at routing time. In scoped
// mode location updates reach administrators and the guardians linked to
// the bus, and student status reaches the student's guardians. Broadcast
// mode reaches every guardian instead. The sender never receives its own
// broadcast.
//
// A frame whose durable write fails produces an internal_error reply and
// no broadcast.
package router
