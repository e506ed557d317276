//go:build linux

package smbus

import "syscall"

// Linux adapters report a missing ACK as EREMOTEIO, some as ENXIO.
var absentErrnos = []error{syscall.EREMOTEIO, syscall.ENXIO}
