// Command gopperd is the motion-core host process. In standalone mode it
// reads g-code lines from stdin, plans and executes them in-process against
// a simulated GPIO bank. In klipper mode it instead connects to a remote
// MCU over the wire protocol, the way gopper-host did.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopper/bridge"
	"gopper/core"
	"gopper/host/mcu"
	"gopper/standalone"
	"gopper/standalone/config"
	"gopper/standalone/gcode"
	"gopper/standalone/kinematics"
	"gopper/standalone/logging"
	"gopper/standalone/manager"
	"gopper/standalone/planner"
)

var (
	configPath = flag.String("config", "", "Path to a JSON machine configuration (default: built-in Cartesian template)")
	device     = flag.String("device", "/dev/ttyACM0", "Serial device path (klipper mode only)")
	baud       = flag.Int("baud", 250000, "Baud rate (klipper mode only, ignored for USB CDC)")
	verbose    = flag.Bool("verbose", false, "Enable verbose diagnostic output")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg.SerialDevice = *device
	cfg.BaudRate = *baud

	switch cfg.Mode {
	case "klipper":
		runKlipperMode(cfg)
	default:
		runStandaloneMode(cfg)
	}
}

func loadConfig() (*standalone.MachineConfig, error) {
	if *configPath == "" {
		return config.DefaultCartesianConfig(), nil
	}
	data, err := os.ReadFile(*configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return config.LoadConfig(data)
}

// runStandaloneMode drives the planner/stepper engine in-process, reading
// g-code lines from stdin and writing responses to stdout — the serial
// host loop collapses to stdio when there's no remote MCU.
func runStandaloneMode(cfg *standalone.MachineConfig) {
	fmt.Println("Gopper Standalone Mode")
	fmt.Println("=======================")

	sink := func(line string) { fmt.Println(line) }

	mgr, err := manager.NewWithConfig(cfg, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create manager: %v\n", err)
		os.Exit(1)
	}

	driver := core.NewSimGPIODriver()
	if err := mgr.Initialize(driver); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Stop()

	if err := mgr.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(mgr.GetOutput()))

	if *verbose {
		fmt.Printf("Mechanics: %s, ring capacity: %d\n", cfg.Kinematics, cfg.RingCapacity)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if err := mgr.ProcessLine(line); err != nil && *verbose {
			fmt.Fprintf(os.Stderr, "// error: %v\n", err)
		}
		fmt.Print(string(mgr.GetOutput()))
		fmt.Println("ok")
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

// runKlipperMode connects to a remote MCU over the wire protocol, then
// wires the same planner/kinematics stack standalone mode uses against a
// bridge.Bridge instead of a stepgen.Engine: g-code is planned exactly the
// same way, but every retired block is regenerated as queue_step wire
// commands for the real MCU to execute rather than stepped by an in-
// process GPIO backend.
func runKlipperMode(cfg *standalone.MachineConfig) {
	fmt.Println("Gopper Klipper-Mode Bridge")
	fmt.Println("===========================")

	mcuConn := mcu.NewMCU()

	fmt.Printf("Connecting to MCU on %s...\n", *device)
	if err := mcuConn.Connect(*device); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer mcuConn.Close()
	fmt.Println("Connected successfully!")

	if err := mcuConn.RetrieveDictionary(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}
	mcuConn.PrintDictionary()

	kin, err := kinematics.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: unsupported kinematics: %v\n", err)
		os.Exit(1)
	}
	sink := func(line string) { fmt.Println(line) }
	log := logging.New(sink)

	plan := planner.NewPlanner(cfg, kin, log)

	br, err := bridge.New(mcuConn, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to configure steppers on MCU: %v\n", err)
		os.Exit(1)
	}
	plan.SetEngine(br)

	stop := make(chan struct{})
	go br.Run(plan.Ring(), stop)
	defer func() {
		plan.QuickStop()
		br.Stop()
	}()

	interp := gcode.NewInterpreter(cfg, plan, log, nil)
	parser := gcode.NewParser()

	fmt.Println("Enter g-code or 'quit' to exit:")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" || line == "q" {
			fmt.Println("Goodbye!")
			return
		}
		cmd, err := parser.ParseLine(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "// error: %v\n", err)
			continue
		}
		if cmd == nil {
			continue
		}
		if err := interp.Execute(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "// error: %v\n", err)
			continue
		}
		fmt.Println("ok")
	}
}
