package domain

import "errors"

// ErrDeviceUnavailable is returned by DeviceControl implementations when no
// speaker is connected to receive the command.
var ErrDeviceUnavailable = errors.New("device unavailable")
