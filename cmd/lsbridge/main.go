// lsbridge: List all connected USB radio bridges
//
// This tool enumerates the Si446x USB bridges connected to the system
// and displays their serial numbers and basic information.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/gousb"
	"github.com/herlein/radiolink/pkg/usbbridge"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output (show additional device details)")
	flag.Parse()

	context := gousb.NewContext()
	defer context.Close()

	devices, err := usbbridge.FindAllDevices(context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to enumerate devices: %v\n", err)
		os.Exit(1)
	}

	if len(devices) == 0 {
		fmt.Println("No radio bridges found")
		if n, err := usbbridge.CountBootloaders(context); err == nil && n > 0 {
			fmt.Printf("%d bridge(s) waiting in bootloader mode\n", n)
		}
		os.Exit(0)
	}

	fmt.Printf("Found %d radio bridge(s):\n", len(devices))
	fmt.Println()

	for i, device := range devices {
		defer device.Close()

		if !*verbose {
			fmt.Printf("  #%d  %s  %d:%d\n", i, device.Serial, device.Bus, device.Address)
			continue
		}

		fmt.Printf("Device #%d:\n", i)
		fmt.Printf("  Serial:       %s\n", device.Serial)
		fmt.Printf("  Bus:Address:  %d:%d\n", device.Bus, device.Address)
		fmt.Printf("  Manufacturer: %s\n", device.Manufacturer)
		fmt.Printf("  Product:      %s\n", device.Product)

		if buildType, err := device.GetBuildType(); err == nil {
			fmt.Printf("  Firmware:     %s\n", buildType)
		} else {
			fmt.Printf("  Firmware:     (error: %v)\n", err)
		}

		if partNum, err := device.GetPartNum(); err == nil {
			fmt.Printf("  Radio:        Si%04X\n", partNum)
		} else {
			fmt.Printf("  Radio:        (error: %v)\n", err)
		}
		fmt.Println()
	}

	if !*verbose {
		fmt.Println()
		fmt.Println("Use the usb_device backend setting or the -d flag to select a bridge:")
		fmt.Println("  \"#0\"      Select by index")
		fmt.Println("  \"1:10\"    Select by bus:address")
		fmt.Println("  \"009a\"    Select by serial (if unique)")
	}
}
