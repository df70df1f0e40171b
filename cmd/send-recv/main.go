// send-recv: Send and receive long packets through the link controller
//
// Packets up to three FIFOs long are streamed through the transceiver in
// threshold-sized chunks. The backend (simulated, SPI or USB bridge) comes
// from the configuration file.
//
// Examples:
//
//	# Receive mode - listen for packets, deliver them to the configured sinks
//	./send-recv -m recv -c etc/radiolink/default.toml
//
//	# Send mode - transmit data from command line
//	./send-recv -m send -c etc/radiolink/default.toml -data "Hello World"
//
//	# Send mode - transmit the configured custom payload 10 times
//	./send-recv -m send -c etc/radiolink/default.toml -custom -repeat 10
//
//	# Loop mode - send then receive on a simulated radio
//	./send-recv -m loop -hex "DEADBEEF"
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/herlein/radiolink/pkg/backend"
	"github.com/herlein/radiolink/pkg/config"
	"github.com/herlein/radiolink/pkg/link"
	"github.com/herlein/radiolink/pkg/logging"
	"github.com/herlein/radiolink/pkg/metrics"
	"github.com/herlein/radiolink/pkg/sink"
	"github.com/herlein/radiolink/pkg/usbbridge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var errDone = errors.New("done")

type session struct {
	ctrl    *link.Controller
	log     *logrus.Logger
	status  atomic.Value // metrics.Status
	backend string
}

func (s *session) publish() {
	s.status.Store(metrics.Status{
		Backend:     s.backend,
		Mode:        s.ctrl.Mode().String(),
		Initialized: s.ctrl.Initialized(),
	})
}

func (s *session) snapshot() metrics.Status {
	st, _ := s.status.Load().(metrics.Status)
	return st
}

func main() {
	mode := flag.String("m", "", "Mode: 'send', 'recv' or 'loop' (required)")
	configPath := flag.String("c", "", "Configuration file path (default: built-in simulated link)")
	verbose := flag.Bool("v", false, "Verbose output")
	deviceSel := flag.String("d", "", usbbridge.DeviceFlagUsage())
	interval := flag.Duration("interval", 2*time.Millisecond, "Poll interval when idle")
	channel := flag.Int("channel", -1, "RF channel (-1 = configured channel)")

	// Send mode options
	dataStr := flag.String("data", "", "Data to send (ASCII string)")
	hexStr := flag.String("hex", "", "Data to send (hex encoded)")
	custom := flag.Bool("custom", false, "Send the configured custom payload")
	repeat := flag.Uint("repeat", 0, "Number of times to repeat transmission (0 = once)")

	// Receive mode options
	count := flag.Int("count", 0, "Number of packets to receive (0 = infinite)")
	rawOutput := flag.Bool("raw", false, "Output raw hex only (for piping)")

	flag.Parse()

	*mode = strings.ToLower(*mode)
	switch *mode {
	case "send", "recv", "loop":
	case "":
		fmt.Fprintln(os.Stderr, "Error: Mode (-m) is required. Use 'send', 'recv' or 'loop'")
		flag.PrintDefaults()
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Error: Invalid mode '%s'. Use 'send', 'recv' or 'loop'\n", *mode)
		os.Exit(1)
	}

	configuration := config.Default()
	if *configPath != "" {
		var err error
		configuration, err = config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}
	if *deviceSel != "" {
		configuration.Backend.Type = config.BackendUSB
		configuration.Backend.USBDevice = *deviceSel
	}

	opts := logging.DefaultOptions()
	if *verbose {
		opts.Level = logrus.DebugLevel
	}
	log := logging.New(opts)

	lc, err := configuration.ToLink()
	if err != nil {
		log.WithError(err).Fatal("invalid link configuration")
	}
	if *channel >= 0 {
		if *channel > 255 {
			log.Fatalf("channel %d out of range", *channel)
		}
		lc.Channel = uint8(*channel)
	}

	var payload []byte
	if *mode != "recv" && !*custom {
		payload, err = packetFromFlags(*dataStr, *hexStr)
		if err != nil {
			log.WithError(err).Fatal("no packet to send")
		}
	}

	be, err := backend.Open(configuration.Backend, lc, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open transceiver")
	}
	defer be.Close()

	var observer link.Observer = link.NopObserver{}
	var registry *prometheus.Registry
	if configuration.Metrics.Listen != "" {
		registry = prometheus.NewRegistry()
		collector, err := metrics.NewCollector(registry)
		if err != nil {
			log.WithError(err).Fatal("failed to register metrics")
		}
		observer = collector
	}

	ctrl, err := link.NewController(be.Transceiver, lc, link.WithLogger(log), link.WithObserver(observer))
	if err != nil {
		log.WithError(err).Fatal("failed to create link controller")
	}
	s := &session{ctrl: ctrl, log: log, backend: be.Name}
	s.publish()

	if registry != nil {
		router := metrics.NewRouter(configuration.Metrics.Path, registry, s.snapshot)
		go func() {
			log.WithField("listen", configuration.Metrics.Listen).Info("serving metrics")
			if err := http.ListenAndServe(configuration.Metrics.Listen, router); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Init(ctx); err != nil {
		log.WithError(err).Fatal("failed to initialize transceiver")
	}
	s.publish()
	log.WithFields(logrus.Fields{
		"backend":       be.Name,
		"channel":       lc.Channel,
		"packet_length": lc.PacketLength,
	}).Info("link ready")

	switch *mode {
	case "send":
		err = s.runSend(ctx, payload, *custom, int(*repeat), *interval)
	case "recv":
		err = s.runRecv(ctx, configuration.Sink, *count, *rawOutput, *interval)
	case "loop":
		err = s.runLoop(ctx, payload, *interval)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("link stopped")
		os.Exit(1)
	}
}

func packetFromFlags(dataStr, hexStr string) ([]byte, error) {
	var data []byte
	switch {
	case hexStr != "":
		var err error
		data, err = hex.DecodeString(hexStr)
		if err != nil {
			return nil, fmt.Errorf("invalid hex string: %w", err)
		}
	case dataStr != "":
		data = []byte(dataStr)
	default:
		return nil, errors.New("must specify -data, -hex or -custom")
	}
	if len(data) == 0 {
		return nil, errors.New("no data to send")
	}
	return data, nil
}

// transmit sends one packet and polls until it has left the radio
func (s *session) transmit(ctx context.Context, payload []byte, custom bool, interval time.Duration) error {
	var err error
	if custom {
		err = s.ctrl.TransmitCustomPayload()
	} else {
		err = s.ctrl.StartTransmitOn(s.ctrl.Config().Channel, payload)
	}
	if err != nil {
		return err
	}
	s.publish()

	err = s.ctrl.Run(ctx, interval, func(ev link.Event) error {
		if ev.Kind == link.EventPacketTransmitted {
			s.log.WithField("length", ev.Length).Info("packet transmitted")
			return errDone
		}
		return nil
	})
	s.publish()
	if errors.Is(err, errDone) {
		return nil
	}
	if abortErr := s.ctrl.Abort(); abortErr != nil {
		s.log.WithError(abortErr).Warn("abort failed")
	}
	return err
}

func (s *session) runSend(ctx context.Context, payload []byte, custom bool, repeat int, interval time.Duration) error {
	start := time.Now()
	for i := 0; i <= repeat; i++ {
		if err := s.transmit(ctx, payload, custom, interval); err != nil {
			return err
		}
	}
	fmt.Printf("Transmission complete: %d packet(s) in %v\n", repeat+1, time.Since(start).Round(time.Millisecond))
	return nil
}

func openSinks(cfg config.SinkConfig, log logrus.FieldLogger) (sink.Multi, error) {
	var sinks sink.Multi
	if cfg.Log {
		sinks = append(sinks, sink.NewLog(log))
	}
	if cfg.UART.Port != "" {
		w, err := sink.OpenUART(cfg.UART.Port, cfg.UART.BaudRate)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, w)
	}
	if cfg.Redis.Addr != "" {
		sinks = append(sinks, sink.DialRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel))
	}
	return sinks, nil
}

func (s *session) runRecv(ctx context.Context, cfg config.SinkConfig, count int, rawOutput bool, interval time.Duration) error {
	sinks, err := openSinks(cfg, s.log)
	if err != nil {
		return fmt.Errorf("failed to open sinks: %w", err)
	}
	defer sinks.Close()
	deliver := sink.Handler(sinks)

	if err := s.ctrl.StartReceive(); err != nil {
		return err
	}
	s.publish()

	if !rawOutput {
		fmt.Println("Listening for packets (Ctrl+C to stop)...")
		fmt.Println()
	}

	received, crcErrors, overflows := 0, 0, 0
	startTime := time.Now()

	err = s.ctrl.Run(ctx, interval, func(ev link.Event) error {
		switch ev.Kind {
		case link.EventPacketReceived:
			received++
			printPacket(received, ev.Packet, rawOutput)
			if err := deliver(ev); err != nil {
				s.log.WithError(err).Warn("sink delivery failed")
			}
			if count > 0 && received >= count {
				return errDone
			}
		case link.EventCRCError:
			crcErrors++
		case link.EventOverflow:
			overflows++
		}

		// CRC errors without restart leave the link idle
		if s.ctrl.Mode() == link.ModeIdle {
			if err := s.ctrl.StartReceive(); err != nil {
				return err
			}
		}
		s.publish()
		return nil
	})
	s.publish()

	if !rawOutput {
		fmt.Printf("\nReceived %d packets, %d CRC errors, %d overflows in %v\n",
			received, crcErrors, overflows, time.Since(startTime).Round(time.Second))
	}
	if abortErr := s.ctrl.Abort(); abortErr != nil {
		s.log.WithError(abortErr).Warn("abort failed")
	}
	if errors.Is(err, errDone) {
		return nil
	}
	return err
}

// runLoop transmits payload padded to the packet length and then listens
// for it. On the simulated backend the radio hears its own transmission.
func (s *session) runLoop(ctx context.Context, payload []byte, interval time.Duration) error {
	packet := make([]byte, s.ctrl.Config().PacketLength)
	copy(packet, payload)

	if err := s.transmit(ctx, packet, false, interval); err != nil {
		return err
	}
	if err := s.ctrl.StartReceive(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var got []byte
	err := s.ctrl.Run(ctx, interval, func(ev link.Event) error {
		if ev.Kind == link.EventPacketReceived {
			got = ev.Packet
			return errDone
		}
		return nil
	})
	if abortErr := s.ctrl.Abort(); abortErr != nil {
		s.log.WithError(abortErr).Warn("abort failed")
	}
	if !errors.Is(err, errDone) {
		return fmt.Errorf("no packet heard back: %w", err)
	}

	printPacket(1, got, false)
	if !bytes.Equal(got, packet) {
		return errors.New("received packet does not match the transmitted one")
	}
	fmt.Println("Loopback OK")
	return nil
}

func printPacket(n int, data []byte, rawOutput bool) {
	if rawOutput {
		fmt.Println(hex.EncodeToString(data))
		return
	}
	fmt.Printf("[%s] Packet #%d (%d bytes):\n", time.Now().Format("15:04:05.000"), n, len(data))
	fmt.Printf("  Hex: %s\n", hex.EncodeToString(data))
	if len(data) <= 64 {
		fmt.Printf("  ASCII: %s\n", makePrintable(data))
	} else {
		fmt.Printf("  ASCII: %s... (truncated)\n", makePrintable(data[:64]))
	}
	fmt.Println()
}

// makePrintable converts bytes to a printable string, replacing non-printable characters
func makePrintable(data []byte) string {
	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b < 127 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}
