// radio-reset power-cycles the transceiver and loads its configuration,
// retrying within the configured budget. With -usb it instead performs a
// USB port reset on every radio bridge to recover from USB errors.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gousb"
	"github.com/herlein/radiolink/pkg/backend"
	"github.com/herlein/radiolink/pkg/config"
	"github.com/herlein/radiolink/pkg/link"
	"github.com/herlein/radiolink/pkg/logging"
	"github.com/herlein/radiolink/pkg/usbbridge"
	"github.com/sirupsen/logrus"
)

// attemptCounter records the outcome of every init attempt
type attemptCounter struct {
	link.NopObserver
	attempts int
	failures int
}

func (a *attemptCounter) InitAttempt(ok bool) {
	a.attempts++
	if !ok {
		a.failures++
	}
}

func main() {
	configPath := flag.String("c", "", "Configuration file path (default: built-in simulated link)")
	attempts := flag.Int("attempts", 0, "Override the init attempt budget")
	usbReset := flag.Bool("usb", false, "USB port reset all radio bridges instead")
	verbose := flag.Bool("v", false, "Verbose output")
	deviceSel := flag.String("d", "", usbbridge.DeviceFlagUsage())
	flag.Parse()

	if *usbReset {
		os.Exit(resetBridges())
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
	if *attempts > 0 {
		configuration.Link.InitAttempts = *attempts
	}

	opts := logging.DefaultOptions()
	if *verbose {
		opts.Level = logrus.DebugLevel
	}
	log := logging.New(opts)

	lc, err := configuration.ToLink()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	be, err := backend.Open(configuration.Backend, lc, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open transceiver: %v\n", err)
		os.Exit(1)
	}
	defer be.Close()

	counter := &attemptCounter{}
	ctrl, err := link.NewController(be.Transceiver, lc, link.WithLogger(log), link.WithObserver(counter))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err = ctrl.Init(ctx)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		fmt.Printf("Reset FAILED on %s backend after %d attempt(s) in %v: %v\n", be.Name, counter.attempts, elapsed, err)
		stop()
		be.Close()
		os.Exit(1)
	}
	fmt.Printf("Reset OK on %s backend: %d attempt(s), %d failed, %v\n", be.Name, counter.attempts, counter.failures, elapsed)
}

func resetBridges() int {
	ctx := gousb.NewContext()
	defer ctx.Close()

	// Try multiple times to find devices
	for attempt := 0; attempt < 3; attempt++ {
		devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
			return desc.Vendor == gousb.ID(usbbridge.VendorID) && desc.Product == gousb.ID(usbbridge.ProductID)
		})
		if err != nil && len(devs) == 0 {
			fmt.Printf("Attempt %d: Error finding devices: %v\n", attempt+1, err)
			time.Sleep(time.Second)
			continue
		}
		if len(devs) == 0 {
			fmt.Printf("Attempt %d: No devices found\n", attempt+1)
			time.Sleep(time.Second)
			continue
		}

		fmt.Printf("Found %d device(s)\n", len(devs))
		for i, dev := range devs {
			serial, _ := dev.SerialNumber()
			fmt.Printf("  Device %d: %s\n", i, serial)
			if err := dev.Reset(); err != nil {
				fmt.Printf("    Reset failed: %v\n", err)
			} else {
				fmt.Printf("    Reset OK\n")
			}
			dev.Close()
		}
		return 0
	}

	fmt.Println("Failed to find/reset devices after 3 attempts")
	return 1
}
