package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// Args are command line arguments.
type Args struct {
	ConfigFile string
	TestConfig bool
}

func getArgs() (Args, error) {
	configFile := flag.String("config", "", "Configuration file.")
	testConfig := flag.Bool("test-config", false,
		"Parse the configuration and exit.")

	flag.Parse()

	if len(*configFile) == 0 {
		flag.PrintDefaults()
		return Args{}, fmt.Errorf("you must provide a configuration file")
	}

	configPath, err := filepath.Abs(*configFile)
	if err != nil {
		return Args{}, fmt.Errorf(
			"unable to determine absolute path to config file: %s: %s",
			*configFile, err)
	}

	return Args{ConfigFile: configPath, TestConfig: *testConfig}, nil
}

// checkConfigOnly runs the -test-config mode.
func checkConfigOnly(configFile string) {
	if _, err := checkAndParseConfig(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %s\n", err)
		os.Exit(1)
	}
	fmt.Println("configuration OK")
	os.Exit(0)
}
