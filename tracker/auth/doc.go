// Package auth validates the identity claimed by a connection's auth frame.
//
// An Authenticator looks the claimed user id up in a directory.Directory and
// returns the user, including the role and relationship data that stay
// attached to the connection until it closes. When configured with a token
// secret it first verifies an HS256 JWT whose subject must equal the
// claimed user id.
package auth
