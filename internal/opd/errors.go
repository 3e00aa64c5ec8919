package opd

import "errors"

var (
	ErrDoctorNotFound = errors.New("doctor not found")
	ErrSlotNotFound   = errors.New("slot not found")
	ErrTokenNotFound  = errors.New("token not found")

	ErrSlotFull = errors.New("slot is full")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSlotNotOpen       = errors.New("slot is not open for booking")

	ErrNoDestinationSlot = errors.New("no available slot for reallocation")

	ErrSlotBusy        = errors.New("slot is busy, please retry")
	ErrSlotsExist      = errors.New("all slots already exist for this time range")
	ErrInvalidCategory = errors.New("invalid token category")
	ErrInvalidInput    = errors.New("invalid input")
)

// ErrorKind is the coarse failure class callers branch on.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindNotFound          ErrorKind = "not_found"
	KindCapacity          ErrorKind = "capacity"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindNoDestinationSlot ErrorKind = "no_destination_slot"
	KindBusy              ErrorKind = "busy"
	KindConflict          ErrorKind = "conflict"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindInternal          ErrorKind = "internal"
)

func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrDoctorNotFound),
		errors.Is(err, ErrSlotNotFound),
		errors.Is(err, ErrTokenNotFound):
		return KindNotFound
	case errors.Is(err, ErrSlotFull):
		return KindCapacity
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrSlotNotOpen):
		return KindInvalidTransition
	case errors.Is(err, ErrNoDestinationSlot):
		return KindNoDestinationSlot
	case errors.Is(err, ErrSlotBusy):
		return KindBusy
	case errors.Is(err, ErrSlotsExist):
		return KindConflict
	case errors.Is(err, ErrInvalidCategory),
		errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}
