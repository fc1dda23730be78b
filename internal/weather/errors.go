package weather

import "errors"

var (
	// ErrNoData marks an upstream fetch that yielded nothing usable.
	ErrNoData = errors.New("no data from upstream")
	// ErrResponseRejected is returned when a response reports ok=false or carries a message.
	ErrResponseRejected = errors.New("upstream response rejected")

	ErrInvalidRange            = errors.New("invalid date range")
	ErrMeasurementTypeNotFound = errors.New("measurement type not found")
	ErrStationNotFound         = errors.New("station not found")
	ErrInvalidPage             = errors.New("invalid page")

	ErrNullValue        = errors.New("value is null")
	ErrNotNumeric       = errors.New("value is not numeric")
	ErrUnsupportedValue = errors.New("unsupported value kind")

	// ErrUnitOfWorkDone is returned when a committed unit of work is reused.
	ErrUnitOfWorkDone = errors.New("unit of work already committed")
)

// ValidationError is a caller-input failure. It unwraps to one of the
// ErrInvalidRange, ErrMeasurementTypeNotFound, ErrStationNotFound or
// ErrInvalidPage sentinels.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
