// package serialport opens the serial transport to an EBB and
// identifies EBB-bearing ports among the host's serial devices (§6
// "Device detection"). It follows the same shape as
// driver/mjolnir/device.go's Open: a small Config, github.com/tarm/serial
// for the actual byte transport, and a best-candidate-first loop.
package serialport

import (
	"errors"
	"io"
	"strings"

	"github.com/tarm/serial"
)

// Baud is the fixed EBB transport rate (§6 "Transport").
const Baud = 9600

// PortInfo describes one serial port candidate as reported by the
// host, with the identifying fields §6's device detection rule
// matches against.
type PortInfo struct {
	Name         string
	Manufacturer string
	VID, PID     string
}

// IsEBB reports whether p identifies an EBB, per §6: manufacturer
// string containing "SchmalzHaus", or USB VID:PID 04D8:FD92.
func (p PortInfo) IsEBB() bool {
	if strings.Contains(p.Manufacturer, "SchmalzHaus") {
		return true
	}
	return strings.EqualFold(p.VID, "04D8") && strings.EqualFold(p.PID, "FD92")
}

// PortLister enumerates candidate serial ports on the host. The
// standard library has no portable API for USB device enumeration by
// manufacturer string or VID/PID (every corpus driver instead opens a
// fixed, OS-conventional path or an explicitly configured one — see
// driver/mjolnir/device.go), so the default Lister below returns no
// candidates; a platform-specific PortLister implementation backed by
// a USB enumeration library is the intended extension point, wired in
// by the caller rather than assumed here.
type PortLister interface {
	ListPorts() ([]PortInfo, error)
}

// NoPorts is the zero-value PortLister: it reports no candidates,
// forcing callers to either configure an explicit device path or
// supply a platform PortLister.
type NoPorts struct{}

func (NoPorts) ListPorts() ([]PortInfo, error) { return nil, nil }

// Detect returns the first port lister candidate that matches §6's
// EBB identification rule.
func Detect(lister PortLister) (PortInfo, error) {
	ports, err := lister.ListPorts()
	if err != nil {
		return PortInfo{}, err
	}
	for _, p := range ports {
		if p.IsEBB() {
			return p, nil
		}
	}
	return PortInfo{}, errors.New("serialport: no EBB found")
}

// Open opens dev at the EBB's fixed baud rate. If dev is empty, it
// resolves an EBB via lister first, per §6 "First match wins unless a
// specific device path is configured".
func Open(dev string, lister PortLister) (io.ReadWriteCloser, error) {
	if dev == "" {
		if lister == nil {
			lister = NoPorts{}
		}
		p, err := Detect(lister)
		if err != nil {
			return nil, err
		}
		dev = p.Name
	}
	c := &serial.Config{Name: dev, Baud: Baud}
	return serial.OpenPort(c)
}
