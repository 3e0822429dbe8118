package main

import (
	"fmt"
	"os"

	"github.com/phil-mansfield/phasedump/lib"
	g_error "github.com/phil-mansfield/phasedump/lib/error"
	"github.com/phil-mansfield/phasedump/lib/logging"
)

const helpMessage = `phasedump writes phase space histograms of a domain-decomposed particle
simulation with collective, partitioned .slab files.

Usage:
    $ phasedump <mode> <config file> [--<Section>.<Var> <value> ...]

Modes:
    help    - prints this message and an example config file.
    check   - checks a config file for errors.
    dump    - generates particles, bins them, and writes every plane at every
              step.
    confirm - reads the output of dump back and compares it against a serial
              recomputation.

Example config file:

`

func main() {
	// Parse arguments.
	mode, configFile, vars, err := lib.ParseCommandLine(os.Args[1:])
	if err != nil { g_error.External("%s", err.Error()) }
	if mode == "help" {
		fmt.Println(helpMessage + lib.ExampleConfig)
		return
	}
	if configFile == "" {
		g_error.External("No config file was given to the '%s' mode.", mode)
	}

	rawArgs, err := lib.ParseConfigFile(configFile)
	if err != nil { g_error.External("%s", err.Error()) }
	if err := rawArgs.Overwrite(vars); err != nil {
		g_error.External("%s", err.Error())
	}

	// Do processing that doesn't need external validation.
	args, err := rawArgs.Process()
	if err != nil { g_error.External("%s", err.Error()) }
	logging.Mode = args.LogMode

	// Run the chosen mode.
	switch mode {
	case "check":
		Check(args)
	case "dump":
		Dump(args)
	case "confirm":
		Confirm(args)
	default:
		g_error.External(
			"You attempted to run phasedump in the mode '%s', but the only " +
				"valid modes are 'help', 'check', 'dump', and 'confirm'.", mode,
		)
	}
}

// Check runs phasedump's "check" mode which tests for errors in the
// configuration arguments.
func Check(args *lib.Args) {
	ok := lib.Check(args.RunMode, args)
	if ok {
		fmt.Println("No errors detected.")
	}
}

// Dump runs phasedump's "dump" mode, which writes phase space files.
func Dump(args *lib.Args) {
	lib.Check(args.RunMode, args)

	if err := lib.SetThreads(args.Threads); err != nil {
		g_error.External("%s", err.Error())
	}
	if err := lib.Dump(args.RunMode, args); err != nil {
		g_error.External("%s", err.Error())
	}
}

// Confirm runs phasedump's "confirm" mode, which checks that the files written
// by "dump" contain the right histograms.
func Confirm(args *lib.Args) {
	lib.Check(lib.LocalMode, args)

	if err := lib.SetThreads(args.Threads); err != nil {
		g_error.External("%s", err.Error())
	}
	if err := lib.Confirm(args); err != nil {
		g_error.External("%s", err.Error())
	}
	fmt.Println("No errors detected.")
}
