//go:build tinygo

package main

import (
	"fmt"
	"machine"

	"libdb.so/lightshow/lightserial"
)

// Device stores the current state of the controller.
type Device struct {
	serial SerialReadWriter
	pins   []machine.Pin

	// numChannels is zero until the host initializes the controller.
	numChannels uint16
}

// NewDevice creates a new device. The relay pins are configured as outputs
// and switched off.
func NewDevice(serial machine.Serialer, pins []machine.Pin) *Device {
	for _, pin := range pins {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		pin.Low()
	}
	return &Device{
		serial: WrapSerial(serial),
		pins:   pins,
	}
}

// Run runs the device loop forever.
func (d *Device) Run() {
	statusLED(colorIdle)

	for {
		p, err := d.readPacket()
		if err != nil {
			d.logError(err)
			continue
		}

		if err := d.handlePacket(p); err != nil {
			d.logError(err)
		}
	}
}

func (d *Device) log(msg string) {
	d.sendPacket(lightserial.LogPacket{Message: msg})
}

func (d *Device) logError(err error) {
	statusLED(colorError)
	d.sendPacket(lightserial.ErrorPacket{Message: err.Error()})
}

func (d *Device) sendPacket(p lightserial.OutgoingPacket) {
	lightserial.WriteOutgoingPacket(d.serial, p)
}

func (d *Device) readPacket() (lightserial.IncomingPacket, error) {
	return lightserial.ReadIncomingPacket(d.serial, lightserial.ReadContext{
		NumChannels: d.numChannels,
	})
}

func (d *Device) handlePacket(p lightserial.IncomingPacket) error {
	switch p := p.(type) {
	case lightserial.InitializePacket:
		if p.NumChannels < 1 {
			return fmt.Errorf("invalid number of channels: %d", p.NumChannels)
		}
		if int(p.NumChannels) > len(d.pins) {
			d.log(fmt.Sprintf(
				"host drives %d channels, only %d relays are wired",
				p.NumChannels, len(d.pins)))
		}
		d.numChannels = p.NumChannels
		d.fill(false)
		statusLED(colorReady)

	case lightserial.ClearPacket:
		d.fill(false)

	case lightserial.FillPacket:
		d.fill(true)

	case lightserial.SetPacket:
		if d.numChannels == 0 {
			return fmt.Errorf("set packet before initialize")
		}
		for i, on := range p.States(int(d.numChannels)) {
			if i < len(d.pins) {
				d.pins[i].Set(on)
			}
		}

	default:
		return fmt.Errorf("unknown packet type: %T", p)
	}

	d.sendPacket(lightserial.AckPacket{
		IncomingPacketType: p.Type(),
	})
	return nil
}

func (d *Device) fill(on bool) {
	for _, pin := range d.pins {
		pin.Set(on)
	}
}
