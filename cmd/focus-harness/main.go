// Command focus-harness drives the focuser stack by hand, one step at a time.
//
//	focus-harness [flags] connect move 32868 move 32768 disconnect
//	focus-harness [flags] move-disconnect 33000
//	focus-harness ports
//
// Steps run in order in one process so a session opened by connect is
// still held by a following move.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-focuser/internal/config"
	"github.com/unklstewy/bigskies-focuser/internal/coordinators"
	"github.com/unklstewy/bigskies-focuser/internal/engines/camera"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] step...\n\nsteps:\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "  connect              open a camera session")
		fmt.Fprintln(os.Stderr, "  disconnect           close the camera session")
		fmt.Fprintln(os.Stderr, "  move <pos>           move within the open session")
		fmt.Fprintln(os.Stderr, "  move-disconnect <pos> connect if needed, move, then disconnect")
		fmt.Fprintln(os.Stderr, "  probe                read the step range from the camera")
		fmt.Fprintln(os.Stderr, "  status               print the controller status")
		fmt.Fprintln(os.Stderr, "  ports                list serial ports")
		fmt.Fprintln(os.Stderr, "\nflags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	steps, err := parseSteps(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	if len(steps) == 1 && steps[0].kind == stepPorts {
		ports, err := camera.ListSerialPorts()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	cfg.Logging.Format = "console"
	cfg.Logging.OutputPaths = []string{"stderr"}

	logger, err := cfg.Logging.Build()
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	stack, err := coordinators.NewStack(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build focuser stack", zap.Error(err))
	}

	h := &harness{stack: stack, out: os.Stdout, logger: logger}
	err = h.run(steps)
	if cerr := stack.Close(); cerr != nil {
		logger.Warn("Failed to close transport", zap.Error(cerr))
	}
	if err != nil {
		logger.Error("Harness failed", zap.Error(err))
		os.Exit(1)
	}
}
