package source

import (
	"fmt"
	"strings"
	"syscall"
)

// DeviceError is a failure reported by an audio backend. It unwraps to
// ErrPermissionDenied, ErrDeviceBusy or ErrNoDevice when the backend's
// codes allow a classification.
type DeviceError struct {
	Op string

	// Code is the backend error code and Text its description.
	Code int
	Text string

	// HostCode and HostText come from the host audio API (ALSA, Core
	// Audio, WASAPI) when the backend reports one.
	HostCode int
	HostText string

	// Class is the classified sentinel; nil when unclassified.
	Class error
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("source: %s: %s (%d)", e.Op, e.Text, e.Code)
	if e.HostText != "" || e.HostCode != 0 {
		msg += fmt.Sprintf(": host: %s (%d)", e.HostText, e.HostCode)
	}
	return msg
}

func (e *DeviceError) Unwrap() error { return e.Class }

// Portable backend codes that identify a busy or missing device. The
// values are PortAudio's PaErrorCode constants.
const (
	codeInvalidDevice     = -9996
	codeDeviceUnavailable = -9985
	codeHostError         = -9999
)

// ClassifyDeviceError fills in e.Class from its codes and texts and
// returns e.
func ClassifyDeviceError(e *DeviceError) *DeviceError {
	host := strings.ToLower(e.HostText + " " + e.Text)
	switch {
	case e.HostCode == int(syscall.EACCES) || e.HostCode == int(syscall.EPERM),
		strings.Contains(host, "permission"),
		strings.Contains(host, "not permitted"),
		strings.Contains(host, "not authorized"):
		e.Class = ErrPermissionDenied
	case e.HostCode == int(syscall.ENODEV),
		strings.Contains(host, "no such device"):
		e.Class = ErrNoDevice
	case e.Code == codeDeviceUnavailable,
		e.HostCode == int(syscall.EBUSY),
		strings.Contains(host, "busy"),
		strings.Contains(host, "in use"):
		e.Class = ErrDeviceBusy
	case e.Code == codeInvalidDevice:
		e.Class = ErrNoDevice
	}
	return e
}
