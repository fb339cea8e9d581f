package device

import "errors"

var (
	ErrImageUnreadable  = errors.New("device: bitstream image unreadable")
	ErrConfigRejected   = errors.New("device: configuration rejected")
	ErrTimeout          = errors.New("device: timeout")
	ErrInvalidParameter = errors.New("device: invalid parameter")
	ErrLinkLost         = errors.New("device: link lost")
	ErrStreamInactive   = errors.New("device: stream inactive")
	ErrNotLoaded        = errors.New("device: bitstream not loaded")
	ErrEndOfStream      = errors.New("device: end of stream")
	ErrUnsupported      = errors.New("device: unsupported")
)

// Fatal reports whether err must stop the bridge instead of triggering a
// restart of the device session.
func Fatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrImageUnreadable),
		errors.Is(err, ErrConfigRejected),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrUnsupported):
		return true
	default:
		return false
	}
}

// Transient reports whether err is recoverable by restarting the session.
func Transient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrLinkLost)
}
