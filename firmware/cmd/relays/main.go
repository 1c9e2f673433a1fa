//go:build tinygo

// Command relays is the firmware of the relay controller. It switches one
// relay per light channel as told by the lightshow host over USB serial.
package main

import "machine"

// relayPins are the pins driving the relays, in channel order.
var relayPins = []machine.Pin{
	machine.D0, machine.D1, machine.D2, machine.D3,
	machine.D4, machine.D5, machine.D6, machine.D7,
}

func main() {
	NewDevice(machine.Serial, relayPins).Run()
}
