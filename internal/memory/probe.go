package memory

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// Probe reports system memory pressure
type Probe interface {
	// Usage returns the fraction (0..1) of system memory in use
	Usage() (float64, error)
}

// ProcessProbe can also report the current process footprint
type ProcessProbe interface {
	Probe
	ResidentBytes() (uint64, error)
}

// ProcProbe reads /proc via procfs
type ProcProbe struct {
	fs procfs.FS
}

// NewProcProbe opens the default /proc mount
func NewProcProbe() (*ProcProbe, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	return &ProcProbe{fs: fs}, nil
}

// Usage implements Probe as 1 - MemAvailable/MemTotal
func (p *ProcProbe) Usage() (float64, error) {
	info, err := p.fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("failed to read meminfo: %w", err)
	}
	if info.MemTotal == nil || *info.MemTotal == 0 {
		return 0, fmt.Errorf("meminfo has no MemTotal")
	}

	available := uint64(0)
	switch {
	case info.MemAvailable != nil:
		available = *info.MemAvailable
	case info.MemFree != nil:
		// kernels before 3.14 have no MemAvailable
		available = *info.MemFree
		if info.Buffers != nil {
			available += *info.Buffers
		}
		if info.Cached != nil {
			available += *info.Cached
		}
	}
	if available > *info.MemTotal {
		available = *info.MemTotal
	}

	return 1 - float64(available)/float64(*info.MemTotal), nil
}

// ResidentBytes returns the resident set size of this process
func (p *ProcProbe) ResidentBytes() (uint64, error) {
	self, err := p.fs.Self()
	if err != nil {
		return 0, fmt.Errorf("failed to open self: %w", err)
	}
	stat, err := self.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to read process stat: %w", err)
	}
	return uint64(stat.ResidentMemory()), nil
}

// StaticProbe returns a fixed usage. Useful on hosts without /proc.
type StaticProbe float64

// Usage implements Probe
func (s StaticProbe) Usage() (float64, error) {
	return float64(s), nil
}
