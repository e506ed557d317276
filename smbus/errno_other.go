//go:build !linux

package smbus

import "syscall"

var absentErrnos = []error{syscall.ENXIO}
