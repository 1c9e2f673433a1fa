//go:build tinygo

package main

import (
	"io"
	"machine"
	"runtime"
	"time"
)

type serialIO struct {
	machine.Serialer
}

// SerialReadWriter is a serial device usable as an io.ReadWriter.
type SerialReadWriter interface {
	io.ReadWriter
	// Buffered returns the number of bytes currently buffered in the serial
	// device.
	Buffered() int
}

// WrapSerial wraps a machine.Serialer in an io.ReadWriter. Reads never
// block; they return 0 bytes when nothing is buffered.
func WrapSerial(serial machine.Serialer) SerialReadWriter {
	return serialIO{Serialer: serial}
}

func (s serialIO) Read(b []byte) (int, error) {
	n := min(s.Buffered(), len(b))
	if n == 0 {
		// Sleep to reduce CPU usage.
		time.Sleep(time.Millisecond)
		return 0, nil
	}

	for i := 0; i < n; i++ {
		c, err := s.ReadByte()
		if err != nil {
			return i, err
		}
		b[i] = c
	}

	runtime.Gosched()
	return n, nil
}

func (s serialIO) Write(b []byte) (int, error) {
	for _, c := range b {
		if err := s.WriteByte(c); err != nil {
			return 0, err
		}
	}
	runtime.Gosched()
	return len(b), nil
}
