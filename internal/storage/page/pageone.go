package page

import (
	"crypto/rand"

	"github.com/leengari/mini-rdbms/internal/errs"
)

// Page one (spec §3) is reserved for the clean-shutdown token: bytes
// [100,108) hold a random value written at startup, [108,116) hold a copy
// written only at clean shutdown. Their equality on the next open signals
// that the previous session terminated cleanly, so Recovery can be
// skipped.
const (
	OpenTokenOffset  = 100
	OpenTokenLength  = 8
	CloseTokenOffset = 108
)

// PageOneFSOOffset is where an ordinary page's free-space offset would
// live; page one repurposes the rest of its data area for the token but
// keeps the same [FSO:u16][data] shape so the free-space map never has to
// special-case it.
const PageOneFSOOffset = 0

// WriteOpenToken stamps a fresh random open token into page one's bytes
// and clears the close token, recording "this session has not shut down
// cleanly yet".
func WriteOpenToken(data []byte) error {
	tok := make([]byte, OpenTokenLength)
	if _, err := rand.Read(tok); err != nil {
		return errs.Wrap(errs.FileCannotRW, "generate open token", err)
	}
	copy(data[OpenTokenOffset:OpenTokenOffset+OpenTokenLength], tok)
	clear(data[CloseTokenOffset : CloseTokenOffset+OpenTokenLength])
	return nil
}

// WriteCloseToken copies the open token into the close-token range,
// marking a clean shutdown.
func WriteCloseToken(data []byte) {
	copy(data[CloseTokenOffset:CloseTokenOffset+OpenTokenLength], data[OpenTokenOffset:OpenTokenOffset+OpenTokenLength])
}

// WasCleanShutdown reports whether the open and close tokens match.
func WasCleanShutdown(data []byte) bool {
	open := data[OpenTokenOffset : OpenTokenOffset+OpenTokenLength]
	closeTok := data[CloseTokenOffset : CloseTokenOffset+OpenTokenLength]
	for i := range open {
		if open[i] != closeTok[i] {
			return false
		}
	}
	// An all-zero pair (page one allocated but never stamped with an open
	// token) also matches and is reported as clean; a stamped open token
	// comes from crypto/rand, so it is all-zero only with negligible odds.
	return true
}
