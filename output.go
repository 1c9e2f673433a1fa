package lightshow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"libdb.so/lightshow/internal/lights"
	"libdb.so/lightshow/lightserial"
)

// Output is the interface for types that drive the light channels.
type Output interface {
	// NumChannels returns the number of channels driven.
	NumChannels() int
	// Set sets every channel to the given states.
	Set(lights.States) error
	// AllOn turns every channel on.
	AllOn() error
	// AllOff turns every channel off.
	AllOff() error
	// Close releases the output.
	Close() error
}

// Runner is implemented by outputs that need a background loop, such as
// one reading feedback from a device. Run blocks until the context is
// canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// OpenOutput opens the output described by the configuration.
func OpenOutput(cfg OutputConfig, logger *slog.Logger) (Output, error) {
	switch cfg.Kind {
	case SerialOutputKind:
		return OpenSerialOutput(cfg, logger)
	case LogOutputKind:
		return NewLogOutput(cfg.Channels, logger), nil
	default:
		return nil, errors.Errorf("unknown output kind %q", cfg.Kind)
	}
}

// SerialOutput drives a relay controller over a serial port using the
// lightserial protocol.
type SerialOutput struct {
	port   serial.Port
	logger *slog.Logger

	mu   sync.Mutex
	last lights.States
	sent bool

	closeOnce sync.Once
	closeErr  error
}

var (
	_ Output = (*SerialOutput)(nil)
	_ Runner = (*SerialOutput)(nil)
)

// OpenSerialOutput opens the serial port and initializes the controller.
func OpenSerialOutput(cfg OutputConfig, logger *slog.Logger) (*SerialOutput, error) {
	port, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: cfg.Baud,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open serial port")
	}

	o := NewSerialOutput(port, cfg.Channels, logger)

	logger.Debug("waiting 100ms for the controller to settle...")
	time.Sleep(100 * time.Millisecond)

	if err := o.initialize(); err != nil {
		port.Close()
		return nil, err
	}

	return o, nil
}

// NewSerialOutput creates a serial output over an already open port. The
// controller is not initialized.
func NewSerialOutput(port serial.Port, numChannels int, logger *slog.Logger) *SerialOutput {
	return &SerialOutput{
		port:   port,
		logger: logger,
		last:   lights.NewStates(numChannels),
	}
}

func (o *SerialOutput) initialize() error {
	o.logger.Debug("sending initialize packet")
	return o.writePacket(lightserial.InitializePacket{
		NumChannels: uint16(len(o.last)),
	})
}

// NumChannels implements Output.
func (o *SerialOutput) NumChannels() int {
	return len(o.last)
}

// Set implements Output. Unchanged states are not resent.
func (o *SerialOutput) Set(s lights.States) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sent && o.last.Equal(s) {
		return nil
	}

	if err := o.writePacketLocked(lightserial.NewSetPacket(s)); err != nil {
		return err
	}

	copy(o.last, s)
	o.sent = true
	return nil
}

// AllOn implements Output.
func (o *SerialOutput) AllOn() error {
	return o.fill(true, lightserial.FillPacket{})
}

// AllOff implements Output.
func (o *SerialOutput) AllOff() error {
	return o.fill(false, lightserial.ClearPacket{})
}

func (o *SerialOutput) fill(on bool, p lightserial.IncomingPacket) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.writePacketLocked(p); err != nil {
		return err
	}

	o.last.SetAll(on)
	o.sent = true
	return nil
}

func (o *SerialOutput) writePacket(p lightserial.IncomingPacket) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.writePacketLocked(p)
}

func (o *SerialOutput) writePacketLocked(p lightserial.IncomingPacket) error {
	o.logger.Debug(
		"writing packet",
		"type", p.Type())

	if err := lightserial.WriteIncomingPacket(o.port, p); err != nil {
		return errors.Wrapf(err, "failed to write %s packet", p.Type())
	}

	return nil
}

// Run reads feedback packets from the controller until the context is
// canceled or the controller reports that it cannot continue.
func (o *SerialOutput) Run(ctx context.Context) error {
	if err := o.port.SetReadTimeout(serial.NoTimeout); err != nil {
		return errors.Wrap(err, "failed to reset read timeout")
	}

	stop := context.AfterFunc(ctx, func() {
		o.logger.Debug("closing serial port")
		o.Close()
	})
	defer stop()

	for ctx.Err() == nil {
		p, err := lightserial.ReadOutgoingPacket(o.port)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			// A short read indicates a timeout. This is expected.
			// Ignore the error and try again.
			if errors.Is(err, io.EOF) {
				continue
			}
			return errors.Wrap(err, "failed to read packet")
		}

		if err := o.handlePacket(p); err != nil {
			return err
		}
	}

	return ctx.Err()
}

func (o *SerialOutput) handlePacket(p lightserial.OutgoingPacket) error {
	switch p := p.(type) {
	case lightserial.AckPacket:
		o.logger.Debug(
			"received ack packet from controller",
			"acked_for", p.IncomingPacketType)

	case lightserial.ErrorPacket:
		o.logger.Warn(
			"received error packet from controller",
			"message", p.Message)

	case lightserial.PanicPacket:
		o.logger.Error("controller unrecoverably panicked")
		return errors.New("controller panicked")

	case lightserial.LogPacket:
		o.logger.Info(
			"received log packet from controller",
			"message", p.Message)

	default:
		return errors.Errorf("received unknown packet from controller: %s", p.Type())
	}

	return nil
}

// Close implements Output. It is safe to call more than once.
func (o *SerialOutput) Close() error {
	o.closeOnce.Do(func() {
		if err := o.port.Close(); err != nil {
			o.closeErr = errors.Wrap(err, "failed to close serial port")
		}
	})
	return o.closeErr
}

// LogOutput is an Output that logs channel changes instead of driving
// hardware. It is useful for trying out settings.
type LogOutput struct {
	logger *slog.Logger

	mu      sync.Mutex
	last    lights.States
	changes int
}

var _ Output = (*LogOutput)(nil)

// NewLogOutput creates a new log output.
func NewLogOutput(numChannels int, logger *slog.Logger) *LogOutput {
	return &LogOutput{
		logger: logger,
		last:   lights.NewStates(numChannels),
	}
}

// NumChannels implements Output.
func (o *LogOutput) NumChannels() int { return len(o.last) }

// Set implements Output.
func (o *LogOutput) Set(s lights.States) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.last.Equal(s) {
		return nil
	}

	copy(o.last, s)
	o.changes++
	o.logger.Debug("lights changed", "states", o.last.String())
	return nil
}

// AllOn implements Output.
func (o *LogOutput) AllOn() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.last.SetAll(true)
	o.logger.Debug("all lights on")
	return nil
}

// AllOff implements Output.
func (o *LogOutput) AllOff() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.last.SetAll(false)
	o.logger.Debug("all lights off")
	return nil
}

// Changes returns the number of times Set changed the states.
func (o *LogOutput) Changes() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.changes
}

// Close implements Output.
func (o *LogOutput) Close() error { return nil }
