package lib

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/gcfg.v1"

	"github.com/phil-mansfield/phasedump/lib/format"
	"github.com/phil-mansfield/phasedump/lib/geom"
	"github.com/phil-mansfield/phasedump/lib/logging"
	"github.com/phil-mansfield/phasedump/lib/phasespace"
	"github.com/phil-mansfield/phasedump/lib/particles"
	"github.com/phil-mansfield/phasedump/lib/slab"
	"github.com/phil-mansfield/phasedump/lib/window"
)

// RawArgs stores the unprocessed values which the user assigned to each config
// variable. Each field is a section of the config file. Vectors are written as
// comma-separated strings.
type RawArgs struct {
	Domain struct {
		Dims int
		GlobalSize, Ranks string
	}
	PhaseSpace struct {
		Planes, Steps string
		MomentumBins int
		PMin, PMax float64
		Type string
		PUnit, Unit float64
		Output string
	}
	MovingWindow struct {
		Enabled bool
		CellsPerStep float64
		StartStep int
	}
	Particles struct {
		PerCell int
		Seed int64
		Drift string
		Spread float64
	}
	Units struct {
		CellSize string
		DeltaT, UnitLength, UnitTime float64
	}
	Run struct {
		Mode, LogMode string
		Threads int
		Strictness string
	}
}

// Args stores configuration information. It is a post-processed version of
// RawArgs.
type Args struct {
	Grid geom.Grid
	Tracker window.Tracker

	Planes []format.Selector
	Steps []int
	MomentumBins int
	PRange [2]float32
	Type slab.TypeFlag
	PUnit, Unit float64
	Output string

	Distribution particles.Distribution
	Seed uint64
	Units phasespace.Units

	RunMode RunMode
	LogMode logging.Flag
	Threads int
	Strictness CheckStrictness
}

// Override is a config variable set on the command line.
type Override struct {
	Section, Name, Value string
}

// DefaultRawArgs returns a RawArgs with all the optional variables set to
// their default values.
func DefaultRawArgs() *RawArgs {
	args := &RawArgs{ }
	args.PhaseSpace.Type = "f32"
	args.PhaseSpace.PUnit, args.PhaseSpace.Unit = 1, 1
	args.PhaseSpace.Output = "."
	args.Particles.PerCell = 4
	args.Particles.Seed = 1
	args.Particles.Drift = "0, 0, 0"
	args.Particles.Spread = 0.5
	args.Units.CellSize = "1, 1, 1"
	args.Units.DeltaT, args.Units.UnitLength, args.Units.UnitTime = 1, 1, 1
	args.Run.Mode = "local"
	args.Run.LogMode = "nil"
	args.Run.Threads = -1
	args.Run.Strictness = "crash"
	return args
}

// ParseCommandLine parses the command line arguments and returns the mode
// phasedump is being run in, the name of the config file, and any variables
// which were set. Expects that the arguments are presented in the order:
// $ phasedump <mode> <config file> [--<Section>.<Var1> <Value1>] ...
func ParseCommandLine(argv []string) (
	mode, configFile string, vars []Override, err error,
) {
	if len(argv) == 0 {
		return "", "", nil, fmt.Errorf("No mode was given. Run " +
			"'phasedump help' for a list of modes.")
	}
	mode = argv[0]
	if len(argv) == 1 { return mode, "", nil, nil }
	configFile = argv[1]

	rest := argv[2:]
	for i := 0; i < len(rest); i += 2 {
		if !strings.HasPrefix(rest[i], "--") {
			return "", "", nil, fmt.Errorf("Expected a variable name " +
				"starting with '--', but got '%s'.", rest[i])
		} else if i + 1 >= len(rest) {
			return "", "", nil, fmt.Errorf("The variable '%s' was not " +
				"given a value.", rest[i])
		}

		tok := strings.SplitN(rest[i][2:], ".", 2)
		if len(tok) != 2 || tok[0] == "" || tok[1] == "" {
			return "", "", nil, fmt.Errorf("Command line variables are " +
				"written as --<Section>.<Var>, but got '%s'.", rest[i])
		}
		vars = append(vars, Override{ tok[0], tok[1], rest[i+1] })
	}

	return mode, configFile, vars, nil
}

// ParseConfigFile parses arguments from a config file. Files ending in .toml
// are read as TOML files and everything else as gcfg (INI-style) files.
func ParseConfigFile(fileName string) (*RawArgs, error) {
	args := DefaultRawArgs()

	if filepath.Ext(fileName) == ".toml" {
		b, err := os.ReadFile(fileName)
		if err != nil { return nil, err }
		if err := toml.Unmarshal(b, args); err != nil {
			return nil, fmt.Errorf("Could not parse %s: %s",
				fileName, err.Error())
		}
		return args, nil
	}

	if err := gcfg.ReadFileInto(args, fileName); err != nil {
		return nil, fmt.Errorf("Could not parse %s: %s", fileName, err.Error())
	}
	return args, nil
}

// Overwrite sets the given variables in args.
func (args *RawArgs) Overwrite(vars []Override) error {
	for _, v := range vars {
		str := fmt.Sprintf("[%s]\n%s = %s\n", v.Section, v.Name, v.Value)
		if err := gcfg.ReadStringInto(args, str); err != nil {
			return fmt.Errorf("Could not set --%s.%s to '%s': %s",
				v.Section, v.Name, v.Value, err.Error())
		}
	}
	return nil
}

// Process converts the raw user input to a format which is more useful for
// internal functions. Very simple validation will be done here, but nothing
// which requires interacting with external files.
func (args *RawArgs) Process() (*Args, error) {
	out := &Args{
		MomentumBins: args.PhaseSpace.MomentumBins,
		PRange: [2]float32{
			float32(args.PhaseSpace.PMin), float32(args.PhaseSpace.PMax),
		},
		PUnit: args.PhaseSpace.PUnit,
		Unit: args.PhaseSpace.Unit,
		Output: args.PhaseSpace.Output,
		Seed: uint64(args.Particles.Seed),
		Threads: args.Run.Threads,
	}

	var err error
	out.Grid.Dims = args.Domain.Dims
	if out.Grid.GlobalSize, err = parseInts(
		"Domain.GlobalSize", args.Domain.GlobalSize, 1,
	); err != nil {
		return nil, err
	}
	if out.Grid.Ranks, err = parseInts(
		"Domain.Ranks", args.Domain.Ranks, 1,
	); err != nil {
		return nil, err
	}
	if err := out.Grid.Check(); err != nil { return nil, err }

	if args.MovingWindow.Enabled {
		out.Tracker = &window.Moving{
			GlobalSize: out.Grid.GlobalSize,
			LocalSize: out.Grid.Domain(0).LocalSize,
			CellsPerStep: args.MovingWindow.CellsPerStep,
			StartStep: args.MovingWindow.StartStep,
		}
	} else {
		out.Tracker = &window.Static{ GlobalSize: out.Grid.GlobalSize }
	}

	for _, name := range splitList(args.PhaseSpace.Planes) {
		sel, err := format.ParsePlane(name)
		if err != nil { return nil, err }
		out.Planes = append(out.Planes, sel)
	}
	if len(out.Planes) == 0 {
		return nil, fmt.Errorf("PhaseSpace.Planes must contain at least " +
			"one plane.")
	}

	if out.Steps, err = format.ExpandSequenceFormat(
		args.PhaseSpace.Steps,
	); err != nil {
		return nil, fmt.Errorf("Could not parse PhaseSpace.Steps: %s",
			err.Error())
	}

	if out.Type, err = parseType(args.PhaseSpace.Type); err != nil {
		return nil, err
	}

	drift, err := parseFloats("Particles.Drift", args.Particles.Drift)
	if err != nil { return nil, err }
	out.Distribution = particles.Distribution{
		Drift: drift,
		Spread: float32(args.Particles.Spread),
		PerCell: args.Particles.PerCell,
	}

	cellSize, err := parseFloats("Units.CellSize", args.Units.CellSize)
	if err != nil { return nil, err }
	out.Units = phasespace.Units{
		CellSize: cellSize,
		DeltaT: float32(args.Units.DeltaT),
		UnitLength: args.Units.UnitLength,
		UnitTime: args.Units.UnitTime,
	}

	if out.LogMode, err = logging.ParseFlag(args.Run.LogMode); err != nil {
		return nil, err
	}
	if out.Strictness, err = parseStrictness(args.Run.Strictness); err != nil {
		return nil, err
	}
	if out.RunMode, err = parseRunMode(args.Run.Mode); err != nil {
		return nil, err
	}

	return out, nil
}

// splitList splits a comma-separated list and drops empty elements.
func splitList(s string) []string {
	out := []string{ }
	for _, tok := range strings.Split(s, ",") {
		if tok = strings.TrimSpace(tok); tok != "" { out = append(out, tok) }
	}
	return out
}

// parseInts parses a vector of up to three integers. Missing trailing
// elements are set to fill.
func parseInts(name, s string, fill int) ([3]int, error) {
	out := [3]int{ fill, fill, fill }
	tok := splitList(s)
	if len(tok) == 0 || len(tok) > 3 {
		return out, fmt.Errorf("%s must have between one and three " +
			"elements, but is set to '%s'.", name, s)
	}
	for i := range tok {
		n, err := strconv.Atoi(tok[i])
		if err != nil {
			return out, fmt.Errorf("Element %d of %s, '%s', is not an " +
				"integer.", i, name, tok[i])
		}
		out[i] = n
	}
	return out, nil
}

// parseFloats parses a vector of exactly three numbers.
func parseFloats(name, s string) ([3]float32, error) {
	out := [3]float32{ }
	tok := splitList(s)
	if len(tok) != 3 {
		return out, fmt.Errorf("%s must have three elements, but is set " +
			"to '%s'.", name, s)
	}
	for i := range tok {
		x, err := strconv.ParseFloat(tok[i], 32)
		if err != nil {
			return out, fmt.Errorf("Element %d of %s, '%s', is not a " +
				"number.", i, name, tok[i])
		}
		out[i] = float32(x)
	}
	return out, nil
}

func parseType(s string) (slab.TypeFlag, error) {
	for f := slab.Int32Flag; f.Valid(); f++ {
		if f.String() == s { return f, nil }
	}
	return 0, fmt.Errorf("PhaseSpace.Type is set to '%s', but must be one " +
		"of i32, i64, u32, u64, f32, or f64.", s)
}

func parseStrictness(s string) (CheckStrictness, error) {
	switch strings.ToLower(s) {
	case "crash": return CrashOnError, nil
	case "warn": return WarnOnError, nil
	}
	return 0, fmt.Errorf("Run.Strictness is set to '%s', but must be " +
		"either 'crash' or 'warn'.", s)
}

func parseRunMode(s string) (RunMode, error) {
	for m := LocalMode; m <= MPIMode; m++ {
		if m.String() == strings.ToLower(s) { return m, nil }
	}
	return 0, fmt.Errorf("Run.Mode is set to '%s', but must be either " +
		"'local' or 'mpi'.", s)
}
