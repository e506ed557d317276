//go:build !linux

package smbus

import "robothat-go/errcode"

// OpenLinux is only available on Linux hosts.
func OpenLinux(id string) (Bus, error) { return nil, errcode.Unsupported }
