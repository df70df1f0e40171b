// link-config: Inspect and generate radiolink configuration
//
// This tool validates a configuration file, prints it as TOML or YAML,
// dumps the transceiver configuration table it produces and writes the
// built-in radio profiles to disk.
//
// Examples:
//
//	# Validate a file and print the resolved configuration
//	./link-config -c etc/radiolink/default.toml
//	./link-config -n default
//
//	# Write the default configuration for editing
//	./link-config -o etc/radiolink/default.toml
//
//	# Show the command table sent to the radio
//	./link-config -c etc/radiolink/default.toml -table
//
//	# List or generate the built-in profiles
//	./link-config -profiles
//	./link-config -generate etc/profiles
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/herlein/radiolink/pkg/config"
	"github.com/herlein/radiolink/pkg/profiles"
	"github.com/herlein/radiolink/pkg/si446x"
)

func main() {
	configPath := flag.String("c", "", "Configuration file path (default: built-in configuration)")
	configName := flag.String("n", "", "Configuration name, resolved to etc/radiolink/<name>.toml")
	outputFile := flag.String("o", "", "Write the configuration to this path (.yaml/.yml for YAML)")
	asYAML := flag.Bool("yaml", false, "Print YAML instead of TOML")
	showTable := flag.Bool("table", false, "Print the configuration table, one command per line")
	listProfiles := flag.Bool("profiles", false, "List built-in radio profiles")
	generateDir := flag.String("generate", "", "Write every built-in profile to this directory")
	flag.Parse()

	if *listProfiles {
		printProfiles()
		return
	}

	if *configName != "" && *configPath == "" {
		*configPath = config.GetConfigPath(*configName)
	}

	configuration := config.Default()
	if *configPath != "" {
		var err error
		configuration, err = config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	} else if err := configuration.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *generateDir != "" {
		pkt := profiles.PacketSettings{
			Length:      configuration.Link.PacketLength,
			TXThreshold: configuration.Link.TXThreshold,
			RXThreshold: configuration.Link.RXThreshold,
		}
		if err := profiles.GenerateProfiles(*generateDir, pkt); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated %d profiles in %s\n", len(profiles.All()), *generateDir)
		return
	}

	if *outputFile != "" {
		if err := config.SaveToFile(configuration, *outputFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to save configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration saved to: %s\n", *outputFile)
		return
	}

	if *showTable {
		if err := printTable(configuration); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	data, err := config.Marshal(configuration, *asYAML)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to marshal configuration: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}

func printProfiles() {
	fmt.Printf("%-24s %12s %10s  %s\n", "NAME", "FREQUENCY", "RATE", "DESCRIPTION")
	for _, p := range profiles.All() {
		fmt.Printf("%-24s %8.3f MHz %8.0f  %s\n", p.Name, p.FrequencyHz/1e6, p.DataRateBaud, p.Description)
	}
}

func printTable(configuration *config.Config) error {
	lc, err := configuration.ToLink()
	if err != nil {
		return err
	}
	commands, err := si446x.SplitTable(lc.ConfigTable)
	if err != nil {
		return err
	}

	source := "config_table"
	if configuration.Link.ConfigTable == "" {
		source = "profile " + configuration.Link.Profile
	}
	fmt.Printf("# %d commands, %d bytes (%s)\n", len(commands), len(lc.ConfigTable), source)
	for _, cmd := range commands {
		fmt.Printf("%02X %s\n", len(cmd), hex.EncodeToString(cmd))
	}
	fmt.Println("00")
	return nil
}
