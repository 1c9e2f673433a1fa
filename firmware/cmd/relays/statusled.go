//go:build tinygo

package main

import (
	"machine"

	"tinygo.org/x/drivers/ws2812"
)

type color [3]uint8

var (
	colorIdle  = color{0, 0, 32}
	colorReady = color{0, 32, 0}
	colorError = color{64, 0, 0}
)

var statusLEDDevice ws2812.Device
var statusLEDPower = machine.GPIO11
var statusLEDInitialized bool

func initStatusLED() {
	if !statusLEDInitialized {
		// https://wiki.seeedstudio.com/XIAO-RP2040-with-Arduino/
		statusLEDPower.Configure(machine.PinConfig{Mode: machine.PinOutput})
		statusLEDPower.High()

		machine.GPIO12.Configure(machine.PinConfig{Mode: machine.PinOutput})
		statusLEDDevice = ws2812.New(machine.GPIO12)

		statusLEDInitialized = true
	}
}

// statusLED shows the given color on the onboard RGB LED.
func statusLED(c color) {
	initStatusLED()
	// The LED takes GRB.
	statusLEDDevice.WriteByte(c[1])
	statusLEDDevice.WriteByte(c[0])
	statusLEDDevice.WriteByte(c[2])
}
