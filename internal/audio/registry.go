package audio

import (
	"fmt"
	"strings"
)

// Registry resolves human-readable device names to hardware devices.
type Registry struct {
	host Host
}

// NewRegistry creates a registry over the given hardware host.
func NewRegistry(host Host) *Registry {
	return &Registry{host: host}
}

// List returns all devices in enumeration order.
func (r *Registry) List() ([]DeviceInfo, error) {
	devices, err := r.host.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}
	return devices, nil
}

// Resolve returns the first device, in enumeration order, whose name contains
// name (case-insensitive) and that supports dir. When several devices share
// the substring the first one wins.
func (r *Registry) Resolve(name string, dir Direction) (DeviceInfo, error) {
	devices, err := r.List()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %w", ErrDeviceOpenFailed, err)
	}

	needle := strings.ToLower(name)
	for _, dev := range devices {
		if !strings.Contains(strings.ToLower(dev.Name), needle) {
			continue
		}
		if dev.Supports(dir) {
			return dev, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("%w: no %s device matching %q", ErrDeviceNotFound, dir, name)
}

// Open opens dev for dir at the given format.
func (r *Registry) Open(dev DeviceInfo, dir Direction, format Format) (*DeviceHandle, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceOpenFailed, err)
	}
	if !dev.Supports(dir) {
		return nil, fmt.Errorf("%w: %q has no %s channels", ErrDeviceOpenFailed, dev.Name, dir)
	}
	if limit := dev.MaxChannels(dir); limit < format.Channels {
		return nil, fmt.Errorf("%w: %q supports %d %s channels, need %d",
			ErrDeviceOpenFailed, dev.Name, limit, dir, format.Channels)
	}

	stream, err := r.host.Open(dev, dir, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrDeviceOpenFailed, dev.Name, err)
	}

	return &DeviceHandle{
		Device:    dev,
		Direction: dir,
		Format:    format,
		stream:    stream,
	}, nil
}
