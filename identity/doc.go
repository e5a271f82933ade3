// Package identity is a reference implementation of the remote identity
// service that recovery clients talk to.
//
// A [Service] issues one-time passcodes, exchanges a valid passcode for a
// signed reset token, and commits a new password for the account named by
// that token. Passcodes and consumed token ids live in Redis; accounts live
// in a [Directory]; passcodes reach the user through a [Notifier].
//
// The HTTP surface is in the httpapi sub-package.
package identity
