/*package lib contains the functions behind phasedump's command line modes:
parsing and checking configuration files, running collective dumps, and
confirming the output afterwards. The heavy lifting is done by lib/'s
subpackages.
*/
package lib

// Version is the version of the software.
const Version = "0.1.0"

// ExampleConfig is an example configuration file. It is printed by
// "phasedump help".
const ExampleConfig = `[Domain]

#######################
# Required Parameters #
#######################

# Number of spatial dimensions, 2 or 3.
Dims = 3

# Number of cells in the global domain and number of ranks along each axis.
GlobalSize = 64, 64, 32
Ranks = 2, 4, 1

[PhaseSpace]

# Planes to dump, written as <axis>p<axis>.
Planes = ypy, xpz

# Steps to dump, written as a sequence, e.g. 0..100 - 50 + 200
Steps = 0 + 250 + 500

MomentumBins = 64
PMin = -2
PMax = 2

#######################
# Optional Parameters #
#######################

# Element type of the histograms: i32, i64, u32, u64, f32, or f64.
# Type = f32

# PUnit = 1
# Unit = 1
# Output = .

[MovingWindow]

# Enabled = true
# CellsPerStep = 0.25
# StartStep = 0

[Particles]

# PerCell = 4
# Seed = 1
# Drift = 0, 0.5, 0
# Spread = 0.5

[Units]

# CellSize = 1, 1, 1
# DeltaT = 1
# UnitLength = 1
# UnitTime = 1

[Run]

# Mode can be set to one of [ local | mpi ]. Local runs every rank in a single
# process. MPI needs phasedump to be built with '-tags mpi'.
# Mode = local

# LogMode can be set to one of [ nil | performance | debug ].
# LogMode = nil
# Threads = -1
# Strictness can be set to one of [ crash | warn ].
# Strictness = crash`
