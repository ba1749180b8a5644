// Package probe inspects the host process table for the Conduit service.
package probe

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"conduitdash/internal/execx"
	"conduitdash/internal/model"
)

// DefaultPattern matches the command line `./dist/conduit start ...`.
const DefaultPattern = "./dist/conduit start"

// ProcessProbe reports whether the observed service is alive.
type ProcessProbe interface {
	Probe(ctx context.Context) (model.ProcessState, error)
}

// PSProbe lists processes with ps and picks the first whose command line
// contains Pattern.
type PSProbe struct {
	r       execx.Runner
	pattern string
	timeout time.Duration
}

func NewPSProbe(r execx.Runner, pattern string, timeout time.Duration) *PSProbe {
	if r == nil {
		r = execx.NewOSRunner()
	}
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &PSProbe{r: r, pattern: pattern, timeout: timeout}
}

// Probe returns a not-running state when no process matches. An error means
// the process table could not be read at all.
func (p *PSProbe) Probe(ctx context.Context) (model.ProcessState, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	out, err := p.r.Output(ctx, "ps", "-eo", "pid=,pcpu=,pmem=,args=")
	if err != nil {
		return model.ProcessState{}, fmt.Errorf("list processes: %w", err)
	}
	return FindProcess(out, p.pattern), nil
}

// FindProcess scans `ps -eo pid=,pcpu=,pmem=,args=` output.
func FindProcess(listing, pattern string) model.ProcessState {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		args := strings.Join(fields[3:], " ")
		if !strings.Contains(args, pattern) {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		cpu, _ := strconv.ParseFloat(fields[1], 64)
		mem, _ := strconv.ParseFloat(fields[2], 64)
		return model.ProcessState{
			Running:    true,
			PID:        pid,
			CPUPercent: cpu,
			MemPercent: mem,
			Args:       args,
		}
	}
	return model.ProcessState{}
}

var (
	maxClientsRe = regexp.MustCompile(`(?:^|\s)-m\s+(\d+)`)
	bandwidthRe  = regexp.MustCompile(`(?:^|\s)-b\s+(-?\d+)`)
)

// Advisory extracts the -m (max clients) and -b (bandwidth) flags from a
// command line. Absent or malformed flags yield nil.
func Advisory(args string) (maxClients, bandwidth *int) {
	return intFlag(maxClientsRe, args), intFlag(bandwidthRe, args)
}

func intFlag(re *regexp.Regexp, args string) *int {
	m := re.FindStringSubmatch(args)
	if m == nil {
		return nil
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &v
}
