// Package metrics exports link controller activity to Prometheus
package metrics

import (
	"github.com/herlein/radiolink/pkg/link"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "radiolink"
	subsystem = "link"
)

// Collector implements link.Observer with Prometheus counters
type Collector struct {
	initAttempts *prometheus.CounterVec
	fifoBytes    *prometheus.CounterVec
	fifoChunks   *prometheus.CounterVec
	packets      *prometheus.CounterVec
	packetLength *prometheus.HistogramVec
	crcErrors    prometheus.Counter
	overflows    prometheus.Counter
}

var _ link.Observer = (*Collector)(nil)

// NewCollector creates the link metrics and registers them with reg, or
// with the default registry when reg is nil
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		initAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "init_attempts_total",
				Help:      "Power-cycle and configuration load attempts.",
			},
			[]string{"result"},
		),
		fifoBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "fifo_bytes_total",
				Help:      "Bytes moved through the transceiver FIFOs.",
			},
			[]string{"direction"},
		),
		fifoChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "fifo_chunks_total",
				Help:      "FIFO write and read bursts.",
			},
			[]string{"direction"},
		),
		packets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "packets_total",
				Help:      "Packets transmitted and received.",
			},
			[]string{"direction"},
		),
		packetLength: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "packet_length_bytes",
				Help:      "Length of completed packets.",
				Buckets:   prometheus.LinearBuckets(32, 32, 6),
			},
			[]string{"direction"},
		),
		crcErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "crc_errors_total",
			Help:      "Receptions discarded on CRC error.",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "overflows_total",
			Help:      "Receptions dropped because the packet buffer overflowed or came up short.",
		}),
	}

	for _, m := range []prometheus.Collector{
		c.initAttempts, c.fifoBytes, c.fifoChunks, c.packets, c.packetLength, c.crcErrors, c.overflows,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) InitAttempt(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	c.initAttempts.WithLabelValues(result).Inc()
}

func (c *Collector) ChunkWritten(n int) {
	c.fifoChunks.WithLabelValues("tx").Inc()
	c.fifoBytes.WithLabelValues("tx").Add(float64(n))
}

func (c *Collector) ChunkRead(n int) {
	c.fifoChunks.WithLabelValues("rx").Inc()
	c.fifoBytes.WithLabelValues("rx").Add(float64(n))
}

func (c *Collector) PacketTransmitted(n int) {
	c.packets.WithLabelValues("tx").Inc()
	c.packetLength.WithLabelValues("tx").Observe(float64(n))
}

func (c *Collector) PacketReceived(n int) {
	c.packets.WithLabelValues("rx").Inc()
	c.packetLength.WithLabelValues("rx").Observe(float64(n))
}

func (c *Collector) CRCError() { c.crcErrors.Inc() }

func (c *Collector) Overflow() { c.overflows.Inc() }
