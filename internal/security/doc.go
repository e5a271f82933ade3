// Package security builds the configuration posture report that the identity
// service exposes and logs at startup.
//
// # What this package must NOT do
//
//   - Read configuration itself; callers pass a ReportInput.
package security
