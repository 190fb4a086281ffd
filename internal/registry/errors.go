package registry

import "errors"

// Errors returned by the registry. Check with errors.Is().
var (
	// ErrDeviceNotFound is returned for an id the registry does not hold.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrDeviceExists is returned when adding an id twice.
	ErrDeviceExists = errors.New("registry: device already exists")

	// ErrInvalidID is returned for an empty id or point name.
	ErrInvalidID = errors.New("registry: invalid id")

	// ErrUnknownPoint is returned when updating a point the device did not declare.
	ErrUnknownPoint = errors.New("registry: unknown point")

	// ErrIncomparable is returned when a raw value cannot be compared with ==.
	ErrIncomparable = errors.New("registry: raw value is not comparable")
)
