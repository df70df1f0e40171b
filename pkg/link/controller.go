// Package link streams packets longer than the transceiver FIFO through it in
// threshold-sized chunks, driven by the chip's packet handler interrupts.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Mode is the half-duplex direction the link is currently running
type Mode uint8

const (
	ModeIdle Mode = iota
	ModeTransmitting
	ModeReceiving
)

func (m Mode) String() string {
	switch m {
	case ModeTransmitting:
		return "transmitting"
	case ModeReceiving:
		return "receiving"
	default:
		return "idle"
	}
}

// EventKind identifies the outcome of a single Poll
type EventKind uint8

const (
	EventNone EventKind = iota
	EventPacketTransmitted
	EventPacketReceived
	EventCRCError
	EventOverflow
)

func (k EventKind) String() string {
	switch k {
	case EventPacketTransmitted:
		return "packet-transmitted"
	case EventPacketReceived:
		return "packet-received"
	case EventCRCError:
		return "crc-error"
	case EventOverflow:
		return "overflow"
	default:
		return "none"
	}
}

// Event is the result of one Poll
type Event struct {
	Kind   EventKind
	Status Interrupt // Interrupts read by the poll
	Length int       // Bytes transmitted or accumulated
	Packet []byte    // Received packet (EventPacketReceived only)
	Err    error     // Reason for EventOverflow
}

// Controller owns the transceiver and runs one direction at a time.
// It is not safe for concurrent use; Poll must be called from a single goroutine.
type Controller struct {
	tr  Transceiver
	cfg Config
	log logrus.FieldLogger
	obs Observer

	tx txStreamer
	rx rxReassembler

	mode        Mode
	initialized bool
}

// Option customizes a Controller
type Option func(*Controller)

// WithLogger sets the logger used for link diagnostics
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithObserver sets the activity observer
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.obs = o
		}
	}
}

// NewController validates cfg and binds it to tr
func NewController(tr Transceiver, cfg Config, opts ...Option) (*Controller, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transceiver", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	c := &Controller{
		tr:  tr,
		cfg: cfg,
		log: quiet,
		obs: NopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.tx = txStreamer{
		tr:        tr,
		fifoSize:  cfg.FIFOSize,
		threshold: cfg.TXThreshold,
	}
	c.rx = rxReassembler{
		tr:        tr,
		buf:       NewPacketBuffer(cfg.LongPacketSize()),
		fifoSize:  cfg.FIFOSize,
		threshold: cfg.RXThreshold,
		length:    cfg.PacketLength,
		policy:    DefaultRxPolicy,
	}
	return c, nil
}

// Config returns the configuration record
func (c *Controller) Config() Config {
	return c.cfg
}

// Mode returns the active direction
func (c *Controller) Mode() Mode {
	return c.mode
}

// Initialized reports whether Init has succeeded
func (c *Controller) Initialized() bool {
	return c.initialized
}

// Init power-cycles the transceiver and loads the configuration table,
// retrying up to InitAttempts times
func (c *Controller) Init(ctx context.Context) error {
	c.mode = ModeIdle
	c.initialized = false
	c.tx.reset()
	c.rx.finish()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.InitAttempts; attempt++ {
		err := c.initOnce(ctx)
		if err == nil {
			c.obs.InitAttempt(true)
			c.initialized = true
			c.log.WithField("attempt", attempt).Info("transceiver initialized")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.obs.InitAttempt(false)
		lastErr = err
		c.log.WithError(err).WithField("attempt", attempt).Warn("transceiver init failed")

		if attempt < c.cfg.InitAttempts {
			if err := sleepContext(ctx, c.cfg.InitBackoff); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrInitFailed, c.cfg.InitAttempts, lastErr)
}

func (c *Controller) initOnce(ctx context.Context) error {
	if err := c.tr.Reset(); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	if err := sleepContext(ctx, c.cfg.ResetDelay); err != nil {
		return err
	}
	if err := c.tr.LoadConfiguration(c.cfg.ConfigTable); err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}
	if _, err := c.tr.InterruptStatus(); err != nil {
		return fmt.Errorf("failed to clear interrupts: %w", err)
	}
	return nil
}

// StartTransmit sends packet on the configured channel
func (c *Controller) StartTransmit(packet []byte) error {
	return c.StartTransmitOn(c.cfg.Channel, packet)
}

// StartTransmitOn sends packet on channel. The packet is copied.
func (c *Controller) StartTransmitOn(channel uint8, packet []byte) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.cfg.checkLength(len(packet)); err != nil {
		return err
	}

	src := make([]byte, len(packet))
	copy(src, packet)

	n, err := c.tx.begin(channel, src)
	if err != nil {
		c.tx.reset()
		return err
	}
	c.mode = ModeTransmitting
	c.obs.ChunkWritten(n)
	c.log.WithFields(logrus.Fields{
		"channel": channel,
		"length":  len(src),
		"primed":  n,
	}).Debug("transmit started")
	return nil
}

// TransmitCustomPayload sends the configured custom long payload
func (c *Controller) TransmitCustomPayload() error {
	if c.cfg.CustomPayload == nil {
		return fmt.Errorf("%w: no custom payload configured", ErrInvalidConfig)
	}
	return c.StartTransmit(c.cfg.CustomPayload[:c.cfg.PacketLength])
}

// StartReceive listens on the configured channel
func (c *Controller) StartReceive() error {
	return c.StartReceiveOn(c.cfg.Channel)
}

// StartReceiveOn listens on channel. Reception re-arms after every packet.
func (c *Controller) StartReceiveOn(channel uint8) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.rx.start(channel); err != nil {
		return err
	}
	c.mode = ModeReceiving
	c.log.WithField("channel", channel).Debug("receive started")
	return nil
}

func (c *Controller) ready() error {
	if !c.initialized {
		return ErrNotInitialized
	}
	if c.mode != ModeIdle {
		return fmt.Errorf("%w: %s", ErrBusy, c.mode)
	}
	return nil
}

// Abort stops the active direction and returns the link to idle
func (c *Controller) Abort() error {
	var fifo FIFO
	switch c.mode {
	case ModeIdle:
		return nil
	case ModeTransmitting:
		fifo = FIFOTX
		c.tx.reset()
	case ModeReceiving:
		fifo = FIFORX
		c.rx.finish()
	}
	c.log.WithField("mode", c.mode).Debug("abort")
	c.mode = ModeIdle

	var errs []error
	if err := c.tr.ChangeState(StateReady); err != nil {
		errs = append(errs, fmt.Errorf("failed to enter READY: %w", err))
	}
	if err := c.tr.ResetFIFO(fifo); err != nil {
		errs = append(errs, fmt.Errorf("failed to reset %s FIFO: %w", fifo, err))
	}
	if _, err := c.tr.InterruptStatus(); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear interrupts: %w", err))
	}
	return errors.Join(errs...)
}

// Poll reads the interrupt status once and advances the active direction.
// Completion is checked before the threshold event of the same direction.
func (c *Controller) Poll() (Event, error) {
	if !c.initialized {
		return Event{}, ErrNotInitialized
	}
	status, err := c.tr.InterruptStatus()
	if err != nil {
		return Event{}, fmt.Errorf("failed to read interrupt status: %w", err)
	}

	switch c.mode {
	case ModeTransmitting:
		return c.pollTX(status)
	case ModeReceiving:
		return c.pollRX(status)
	}
	return Event{Kind: EventNone, Status: status}, nil
}

func (c *Controller) pollTX(status Interrupt) (Event, error) {
	if status.Has(IntPacketSent) {
		n := c.tx.onSent()
		c.mode = ModeIdle
		c.obs.PacketTransmitted(n)
		c.log.WithField("length", n).Debug("packet sent")
		return Event{Kind: EventPacketTransmitted, Status: status, Length: n}, nil
	}

	if status.Has(IntTXAlmostEmpty) {
		n, err := c.tx.onAlmostEmpty()
		if err != nil {
			return Event{Status: status}, err
		}
		if n > 0 {
			c.obs.ChunkWritten(n)
			c.log.WithFields(logrus.Fields{
				"pushed":    n,
				"remaining": c.tx.remaining(),
			}).Trace("tx chunk")
		}
	}
	return Event{Kind: EventNone, Status: status}, nil
}

func (c *Controller) pollRX(status Interrupt) (Event, error) {
	if status.Has(IntPacketReceived) {
		stored := c.rx.buf.Len()
		packet, n, rxErr := c.rx.onPacketReceived()
		if n > stored {
			c.obs.ChunkRead(n - stored)
		}
		ev := Event{Kind: EventPacketReceived, Status: status, Length: n, Packet: packet}
		if rxErr != nil {
			if !errors.Is(rxErr, ErrBufferOverflow) && !errors.Is(rxErr, ErrShortPacket) {
				c.mode = ModeIdle
				return Event{Status: status}, rxErr
			}
			ev = Event{Kind: EventOverflow, Status: status, Length: n, Err: rxErr}
			c.obs.Overflow()
			c.log.WithError(rxErr).Warn("packet dropped")
		} else {
			c.obs.PacketReceived(n)
			c.log.WithField("length", n).Debug("packet received")
		}

		if err := c.rx.start(c.rx.channel); err != nil {
			c.mode = ModeIdle
			return ev, fmt.Errorf("failed to re-arm receive: %w", err)
		}
		return ev, nil
	}

	if status.Has(IntRXAlmostFull) {
		n, err := c.rx.onAlmostFull()
		if err != nil {
			return Event{Status: status}, err
		}
		if n > 0 {
			c.obs.ChunkRead(n)
			c.log.WithFields(logrus.Fields{
				"drained": n,
				"stored":  c.rx.buf.Len(),
			}).Trace("rx chunk")
		}
	}

	if status.Has(IntCRCError) {
		c.obs.CRCError()
		c.log.WithField("stored", c.rx.buf.Len()).Warn("CRC error")
		if err := c.rx.onCRCError(); err != nil {
			c.mode = ModeIdle
			return Event{Kind: EventCRCError, Status: status}, err
		}
		if c.cfg.RestartOnCRCError {
			if err := c.rx.start(c.rx.channel); err != nil {
				c.mode = ModeIdle
				return Event{Kind: EventCRCError, Status: status}, fmt.Errorf("failed to re-arm receive: %w", err)
			}
		} else {
			c.mode = ModeIdle
		}
		return Event{Kind: EventCRCError, Status: status}, nil
	}

	return Event{Kind: EventNone, Status: status}, nil
}

// Run polls until ctx is done or fn returns an error. After an empty poll it
// waits for the IRQ line when the transceiver has one, otherwise for interval.
func (c *Controller) Run(ctx context.Context, interval time.Duration, fn func(Event) error) error {
	waiter, _ := c.tr.(InterruptWaiter)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := c.Poll()
		if err != nil {
			return err
		}
		if ev.Kind != EventNone {
			if err := fn(ev); err != nil {
				return err
			}
			continue
		}
		if waiter != nil {
			waiter.WaitForInterrupt(interval)
			continue
		}
		if err := sleepContext(ctx, interval); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
