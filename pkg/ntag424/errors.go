package ntag424

import (
	"errors"
	"fmt"
)

// Status word constants for ISO 7816 and NTAG 424 DNA native responses.
const (
	// ISO 7816 status words
	SWISOOK                  = 0x9000 // ISO success
	SWConditionsNotSatisfied = 0x6985 // Conditions of use not satisfied
	SWSecurityNotSatisfied   = 0x6982 // Security status not satisfied (need auth)
	SWFileNotFound           = 0x6A82 // File not found
	SWWrongP1P2              = 0x6A86 // Incorrect P1/P2 parameters
	SWWrongLength            = 0x6700 // Wrong length
	SWWrongLe                = 0x6C00 // Wrong Le (mask: 0x6C00, correct Le in SW2)

	// Native status words
	SWOK               = 0x9100 // Operation complete
	SWMoreData         = 0x91AF // Additional frame expected
	SWIntegrityError   = 0x911E // CRC/MAC does not match, or bad padding
	SWLengthError      = 0x917E // Command or data length wrong
	SWIllegalCommand   = 0x911C // Command code not supported
	SWAuthError        = 0x91AE // Current authentication status does not allow the command
	SWAuthDelay        = 0x91AD // Authentication delay counter active; retry later
	SWBoundaryError    = 0x91BE // Attempt to read/write past file limits
	SWPermissionDenied = 0x919D // PICC-level or file access rights deny the command
	SWParameterError   = 0x919E // Parameter value out of range
	SWNoChanges        = 0x9140 // No changes done to backup files
	SWCommandAborted   = 0x91CA // Chained command or transaction aborted
)

// SwOK reports whether a status word indicates success. The tag answers ISO
// wrappers with 0x9000 and native commands with 0x9100; the two are
// equivalent.
func SwOK(sw uint16) bool {
	return sw == SWISOOK || sw == SWOK
}

// SWError represents a non-success status word returned by the tag. The raw
// status word is preserved for diagnostics.
type SWError struct {
	INS byte   // Command instruction byte
	SW  uint16 // Status word
}

func (e *SWError) Error() string {
	return fmt.Sprintf("command 0x%02X failed with SW=0x%04X (%s)", e.INS, e.SW, swDescription(e.SW))
}

func swDescription(sw uint16) string {
	switch sw {
	case SWISOOK, SWOK:
		return "success"
	case SWMoreData:
		return "more data expected"
	case SWIntegrityError:
		return "integrity error"
	case SWLengthError:
		return "length error"
	case SWIllegalCommand:
		return "illegal command"
	case SWAuthError:
		return "authentication error"
	case SWAuthDelay:
		return "authentication delay active"
	case SWBoundaryError:
		return "boundary error"
	case SWPermissionDenied:
		return "permission denied"
	case SWParameterError:
		return "parameter error"
	case SWNoChanges:
		return "no changes"
	case SWCommandAborted:
		return "command aborted"
	case SWConditionsNotSatisfied:
		return "conditions not satisfied"
	case SWSecurityNotSatisfied:
		return "security not satisfied"
	case SWFileNotFound:
		return "file not found"
	case SWWrongP1P2:
		return "wrong P1/P2"
	case SWWrongLength:
		return "wrong length"
	default:
		if (sw & 0xFF00) == SWWrongLe {
			return fmt.Sprintf("wrong Le (correct Le=%d)", sw&0xFF)
		}
		return "unknown error"
	}
}

// Local error values for failures that never reach the transport.
var (
	// ErrSessionExpired is returned when an authenticated command is issued
	// on a channel whose session is no longer valid (closed, or the master
	// key was changed). Nothing is transmitted.
	ErrSessionExpired = errors.New("authentication expired: session no longer valid")

	// ErrResponseMAC is returned when the MAC on a MAC- or FULL-mode
	// response does not verify. The command counter is left unchanged.
	ErrResponseMAC = errors.New("response MAC mismatch")
)

// ProtocolError reports a malformed frame: wrong body length, or a response
// too short to carry its status word. A continuation status (SW=91AF) on a
// command whose response is not chained is not a ProtocolError; it surfaces
// as an *SWError.
type ProtocolError struct {
	INS byte
	Msg string
}

func (e *ProtocolError) Error() string {
	if e.INS != 0 {
		return fmt.Sprintf("protocol error on command 0x%02X: %s", e.INS, e.Msg)
	}
	return "protocol error: " + e.Msg
}

func statusError(ins byte, sw uint16) error {
	return &SWError{INS: ins, SW: sw}
}

// IsLengthError reports whether err is a length-related status word error.
func IsLengthError(err error) bool {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == SWLengthError || swErr.SW == SWWrongLength || (swErr.SW&0xFF00) == SWWrongLe
	}
	return false
}

// IsAuthError reports whether err is an authentication status word error.
func IsAuthError(err error) bool {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == SWAuthError || swErr.SW == SWSecurityNotSatisfied
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.SW == SWAuthError || authErr.SW == SWSecurityNotSatisfied
	}
	return false
}

// IsAuthDelay reports whether err carries the tag's persistent
// authentication-delay status. The tag enforces the delay after repeated
// failed authentications; the caller must wait before retrying.
func IsAuthDelay(err error) bool {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == SWAuthDelay
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.SW == SWAuthDelay
	}
	return false
}

// IsIntegrityError reports whether err is the tag-side integrity status.
func IsIntegrityError(err error) bool {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == SWIntegrityError
	}
	return false
}

// IsBoundaryError reports whether err is a read/write-past-file-end error.
func IsBoundaryError(err error) bool {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == SWBoundaryError
	}
	return false
}

// IsPermissionDenied reports whether err is a permission denied error.
func IsPermissionDenied(err error) bool {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == SWPermissionDenied
	}
	return false
}

// IsNotFound reports whether err is the ISO file-not-found status.
func IsNotFound(err error) bool {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == SWFileNotFound
	}
	return false
}
