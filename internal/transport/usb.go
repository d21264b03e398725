package transport

import (
	"context"
	"time"

	"github.com/google/gousb"

	"github.com/ddiss/lthor/internal/flasherr"
)

// DefaultVID and DefaultPID are Samsung's default flashing-mode
// vendor/product id.
const (
	DefaultVID = 0x04e8
	DefaultPID = 0x685d
)

// USBEndpoints is the gousb-backed Endpoints implementation. OpenUSB
// selects the device (VID/PID, bus id, serial), claims its default
// interface and binds the bulk pair; it does not perform CDC-ACM
// line-coding setup.
type USBEndpoints struct {
	ctx    *gousb.Context
	device *gousb.Device
	done   func()
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint
}

// Selector narrows which device OpenUSB binds to. A zero BusID matches
// any bus; an empty Serial matches any serial number.
type Selector struct {
	VID, PID uint16
	BusID    int
	Serial   string
}

// OpenUSB opens the device matching sel, claims its default interface,
// and binds the bulk IN/OUT endpoint pair. When sel.BusID is zero,
// the first device matching VID/PID (and Serial, if set) is used,
// mirroring the original tool's -b-less behavior; otherwise only a
// device on that bus is considered.
func OpenUSB(sel Selector) (*USBEndpoints, error) {
	ctx := gousb.NewContext()

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != gousb.ID(sel.VID) || desc.Product != gousb.ID(sel.PID) {
			return false
		}
		if sel.BusID != 0 && desc.Bus != sel.BusID {
			return false
		}
		return true
	})
	if err != nil {
		ctx.Close()
		return nil, flasherr.Wrap(flasherr.IoError, err, "enumerate usb devices")
	}
	if len(devices) == 0 {
		ctx.Close()
		return nil, flasherr.New(flasherr.IoError, "usb device not found %04x:%04x", sel.VID, sel.PID)
	}

	var device *gousb.Device
	for _, d := range devices {
		if device != nil {
			d.Close()
			continue
		}
		if sel.Serial != "" {
			serial, err := d.SerialNumber()
			if err != nil || serial != sel.Serial {
				d.Close()
				continue
			}
		}
		device = d
	}
	if device == nil {
		ctx.Close()
		return nil, flasherr.New(flasherr.IoError, "usb device serial mismatch: want %s", sel.Serial)
	}

	if err := device.SetAutoDetach(true); err != nil {
		device.Close()
		ctx.Close()
		return nil, flasherr.Wrap(flasherr.IoError, err, "set auto detach")
	}

	intf, done, err := device.DefaultInterface()
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, flasherr.Wrap(flasherr.IoError, err, "claim default interface")
	}

	epOut, err := intf.OutEndpoint(bulkOutAddr(intf))
	if err != nil {
		done()
		device.Close()
		ctx.Close()
		return nil, flasherr.Wrap(flasherr.IoError, err, "open bulk out endpoint")
	}
	epIn, err := intf.InEndpoint(bulkInAddr(intf))
	if err != nil {
		done()
		device.Close()
		ctx.Close()
		return nil, flasherr.Wrap(flasherr.IoError, err, "open bulk in endpoint")
	}

	return &USBEndpoints{
		ctx: ctx, device: device, done: done,
		intf: intf, epOut: epOut, epIn: epIn,
	}, nil
}

// bulkOutAddr and bulkInAddr find the first bulk endpoint of the
// wanted direction on intf's setting. Samsung's download-mode
// composite exposes exactly one bulk-in/bulk-out pair per §6.
func bulkOutAddr(intf *gousb.Interface) gousb.EndpointAddress {
	for _, ep := range intf.Setting.Endpoints {
		if ep.Direction == gousb.EndpointDirectionOut && ep.TransferType == gousb.TransferTypeBulk {
			return ep.Address
		}
	}
	return 0x01
}

func bulkInAddr(intf *gousb.Interface) gousb.EndpointAddress {
	for _, ep := range intf.Setting.Endpoints {
		if ep.Direction == gousb.EndpointDirectionIn && ep.TransferType == gousb.TransferTypeBulk {
			return ep.Address
		}
	}
	return 0x81
}

// Send implements Endpoints. gousb's OutEndpoint.Write has no context
// variant; cancellation of ctx is honored only up to the point the
// transfer is submitted to libusb, matching gousb's synchronous Write
// semantics.
func (u *USBEndpoints) Send(ctx context.Context, buf []byte, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := u.epOut.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return flasherr.New(flasherr.IoError, "short write: %d of %d", n, len(buf))
	}
	return nil
}

// Recv implements Endpoints.
func (u *USBEndpoints) Recv(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return u.epIn.ReadContext(ctx, buf)
}

// Close releases the interface, device, and context, in that order.
func (u *USBEndpoints) Close() error {
	if u.done != nil {
		u.done()
	}
	if u.device != nil {
		u.device.Close()
	}
	if u.ctx != nil {
		u.ctx.Close()
	}
	return nil
}
