// Package backend opens the transceiver selected by the [backend] section
package backend

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/herlein/radiolink/pkg/config"
	"github.com/herlein/radiolink/pkg/link"
	"github.com/herlein/radiolink/pkg/si446x"
	"github.com/herlein/radiolink/pkg/sim"
	"github.com/herlein/radiolink/pkg/usbbridge"
	"github.com/sirupsen/logrus"
)

// SimBytesPerTick is the on-air rate of the simulated backend
const SimBytesPerTick = 16

// Backend is an opened transceiver. Pass Transceiver itself to
// link.NewController so optional interfaces such as link.InterruptWaiter
// stay visible.
type Backend struct {
	Transceiver link.Transceiver
	Name        string

	closer func() error
}

// Close releases the transceiver
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// Open builds the transceiver named by cfg.Type. lc supplies the FIFO
// geometry for the simulated radio.
func Open(cfg config.BackendConfig, lc link.Config, log logrus.FieldLogger) (*Backend, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("backend", cfg.Type)

	switch cfg.Type {
	case config.BackendSim, "":
		return openSim(lc, log), nil
	case config.BackendSPI:
		return openSPI(cfg, log)
	case config.BackendUSB:
		return openUSB(cfg, log)
	}
	return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Type)
}

// openSim returns a simulated radio whose transmissions loop back into its
// own receive queue
func openSim(lc link.Config, log logrus.FieldLogger) *Backend {
	r := sim.New(sim.Config{
		FIFOSize:     lc.FIFOSize,
		TXThreshold:  lc.TXThreshold,
		RXThreshold:  lc.RXThreshold,
		BytesPerTick: SimBytesPerTick,
		Logger:       log,
	})
	sim.Connect(r, r)
	return &Backend{Transceiver: r, Name: config.BackendSim}
}

func openSPI(cfg config.BackendConfig, log logrus.FieldLogger) (*Backend, error) {
	dev, err := si446x.Open(si446x.Config{
		SPIPort:    cfg.SPIPort,
		SPIClockHz: cfg.SPIClockHz,
		SDNPin:     cfg.SDNPin,
		IRQPin:     cfg.IRQPin,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	log.WithField("device", dev.String()).Info("opened SPI transceiver")
	return &Backend{Transceiver: dev, Name: config.BackendSPI, closer: dev.Close}, nil
}

func openUSB(cfg config.BackendConfig, log logrus.FieldLogger) (*Backend, error) {
	ctx := gousb.NewContext()
	dev, err := usbbridge.SelectDevice(ctx, usbbridge.DeviceSelector(cfg.USBDevice))
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if err := dev.Ping([]byte("PING")); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	log.WithField("device", dev.String()).Info("opened USB radio bridge")

	closer := func() error {
		err := dev.Close()
		if cerr := ctx.Close(); err == nil {
			err = cerr
		}
		return err
	}
	return &Backend{Transceiver: dev, Name: config.BackendUSB, closer: closer}, nil
}
