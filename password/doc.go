// Package password hashes and verifies account passwords with argon2id and
// enforces the server-side length policy applied when a reset is committed.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other goRecover package.
//   - Log plaintext passwords.
package password
