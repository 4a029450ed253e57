//go:build linux

package serialtty

import (
	"errors"
	"testing"
)

func TestTermiosSpeedKnownRates(t *testing.T) {
	t.Parallel()

	for _, baud := range []int{9600, 19200, 38400, 57600, 115200, 230400, 250000} {
		if _, err := termiosSpeed(baud); err != nil {
			t.Errorf("termiosSpeed(%d): unexpected error %v", baud, err)
		}
	}
}

func TestTermiosSpeedUnknownRate(t *testing.T) {
	t.Parallel()

	_, err := termiosSpeed(1234567)
	if !errors.Is(err, ErrUnsupportedBaudRate) {
		t.Fatalf("termiosSpeed(1234567) error = %v, want ErrUnsupportedBaudRate", err)
	}
}
