// Package protocol defines the JSON frames exchanged over a tracker
// connection.
//
// Client frames are {type, data}; server frames are {type, data?, message?,
// code?}. Inbound payload structs use pointer fields for values that are
// required but may legitimately be zero (bus ids, coordinates), so that a
// missing field is distinguishable from 0.
package protocol
