// Package dedupe remembers recently submitted client message ids so a client
// that resends "new message" after a dropped connection does not store the
// same message twice.
package dedupe
