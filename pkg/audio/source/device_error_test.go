package source

import (
	"errors"
	"syscall"
	"testing"
)

func TestClassifyDeviceError(t *testing.T) {
	tests := []struct {
		name string
		err  DeviceError
		want error
	}{
		{"host EACCES", DeviceError{Code: codeHostError, HostCode: int(syscall.EACCES)}, ErrPermissionDenied},
		{"permission text", DeviceError{Code: codeHostError, HostText: "Permission denied"}, ErrPermissionDenied},
		{"unavailable", DeviceError{Code: codeDeviceUnavailable, Text: "Device unavailable"}, ErrDeviceBusy},
		{"host EBUSY", DeviceError{Code: codeHostError, HostCode: int(syscall.EBUSY)}, ErrDeviceBusy},
		{"busy text", DeviceError{Code: codeHostError, HostText: "Device or resource busy"}, ErrDeviceBusy},
		{"unplugged", DeviceError{Code: codeHostError, HostCode: int(syscall.ENODEV)}, ErrNoDevice},
		{"unavailable ENODEV", DeviceError{Code: codeDeviceUnavailable, HostCode: int(syscall.ENODEV)}, ErrNoDevice},
		{"no such device text", DeviceError{Code: codeHostError, HostText: "No such device"}, ErrNoDevice},
		{"invalid device", DeviceError{Code: codeInvalidDevice}, ErrNoDevice},
		{"other", DeviceError{Code: -9993, Text: "Invalid sample rate"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.err
			e.Op = "open"
			ClassifyDeviceError(&e)
			var err error = &e
			if tt.want == nil {
				for _, s := range []error{ErrPermissionDenied, ErrDeviceBusy, ErrNoDevice} {
					if errors.Is(err, s) {
						t.Fatalf("%v classified as %v", err, s)
					}
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("%v is not %v", err, tt.want)
			}
		})
	}
}

func TestUnpluggedIsNotBusy(t *testing.T) {
	e := ClassifyDeviceError(&DeviceError{Op: "open", Code: codeHostError, HostCode: int(syscall.ENODEV)})
	if errors.Is(e, ErrDeviceBusy) {
		t.Fatalf("%v classified as busy", e)
	}
}

func TestPermissionAndBusyAreDistinct(t *testing.T) {
	if errors.Is(ErrPermissionDenied, ErrDeviceBusy) || errors.Is(ErrDeviceBusy, ErrPermissionDenied) {
		t.Fatal("permission and busy errors must be distinguishable")
	}
}
