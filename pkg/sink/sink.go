// Package sink delivers received packets to their consumers
package sink

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-redis/redis"
	"github.com/herlein/radiolink/pkg/link"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Sink consumes complete packets
type Sink interface {
	Deliver(packet []byte) error
	Close() error
}

// Handler returns a link.Controller.Run callback that hands every received
// packet to s. Other events are ignored.
func Handler(s Sink) func(link.Event) error {
	return func(ev link.Event) error {
		if ev.Kind != link.EventPacketReceived {
			return nil
		}
		return s.Deliver(ev.Packet)
	}
}

// Writer writes each packet byte for byte followed by a newline, the
// diagnostic format of the UART console
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps any writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// OpenUART opens a serial port as a packet sink
func OpenUART(port string, baudRate int) (*Writer, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", port, err)
	}
	return NewWriter(p), nil
}

func (s *Writer) Deliver(packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 0, len(packet)+1)
	buf = append(buf, packet...)
	buf = append(buf, '\n')
	if _, err := s.w.Write(buf); err != nil {
		return fmt.Errorf("uart write: %w", err)
	}
	return nil
}

func (s *Writer) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Publisher is the subset of *redis.Client used by Redis
type Publisher interface {
	Publish(channel string, message interface{}) *redis.IntCmd
}

// Redis publishes each packet on a channel
type Redis struct {
	client  Publisher
	channel string
	closer  io.Closer
}

// NewRedis publishes through an existing client
func NewRedis(client Publisher, channel string) *Redis {
	r := &Redis{client: client, channel: channel}
	if c, ok := client.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// DialRedis connects to a Redis server
func DialRedis(addr, password string, db int, channel string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedis(client, channel)
}

func (r *Redis) Deliver(packet []byte) error {
	if err := r.client.Publish(r.channel, packet).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", r.channel, err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Log writes a line per packet
type Log struct {
	log logrus.FieldLogger
}

func NewLog(log logrus.FieldLogger) *Log {
	return &Log{log: log}
}

func (l *Log) Deliver(packet []byte) error {
	l.log.WithFields(logrus.Fields{
		"length": len(packet),
		"data":   hex.EncodeToString(packet),
	}).Info("packet received")
	return nil
}

func (l *Log) Close() error { return nil }

// Multi fans a packet out to every sink. All sinks are tried; the errors
// are joined.
type Multi []Sink

func (m Multi) Deliver(packet []byte) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(packet); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
