package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// EchoCount is the number of echo requests sent per world
	EchoCount = 3
	// DefaultDomain is the domain worlds are hosted under
	DefaultDomain = "runescape.com"
)

// ErrLaunch means the probe could not be started at all
var ErrLaunch = errors.New("launch probe")

// Result is the raw outcome of one probe run
type Result struct {
	Host     string
	Output   string
	ExitCode int
	Duration time.Duration
}

// Prober measures latency to a single host
type Prober interface {
	Probe(ctx context.Context, host string) (Result, error)
}

// HostFor returns the hostname of a world
func HostFor(worldID int, domain string) string {
	if domain == "" {
		domain = DefaultDomain
	}
	return fmt.Sprintf("world%d.%s", worldID, domain)
}

// CommandProber runs the system ping utility
type CommandProber struct {
	Binary  string
	Count   int
	Timeout time.Duration // zero waits forever
}

func NewCommandProber(binary string, timeout time.Duration) *CommandProber {
	if binary == "" {
		binary = "ping"
	}
	return &CommandProber{
		Binary:  binary,
		Count:   EchoCount,
		Timeout: timeout,
	}
}

// Probe runs "<binary> -c <count> <host>" and returns its standard output.
// A non-zero exit status is reported in Result.ExitCode, not as an error:
// ping exits non-zero for unreachable hosts and still prints useful text.
func (p *CommandProber) Probe(ctx context.Context, host string) (Result, error) {
	cmdCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	count := p.Count
	if count <= 0 {
		count = EchoCount
	}

	cmd := exec.CommandContext(cmdCtx, p.Binary, "-c", strconv.Itoa(count), host)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugf("Executing: %s", strings.Join(cmd.Args, " "))

	startTime := time.Now()
	err := cmd.Run()
	result := Result{
		Host:     host,
		Output:   DecodeOutput(stdout.Bytes()),
		Duration: time.Since(startTime),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return result, fmt.Errorf("probe %s: %w", host, ctx.Err())
		case cmdCtx.Err() == context.DeadlineExceeded:
			log.Warnf("Probe of %s timed out after %v", host, p.Timeout)
			result.ExitCode = -1
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
			log.WithFields(log.Fields{
				"host":      host,
				"exit_code": result.ExitCode,
				"stderr":    strings.TrimSpace(stderr.String()),
			}).Debug("Probe exited with non-zero status")
		default:
			return result, fmt.Errorf("%w %s: %v", ErrLaunch, p.Binary, err)
		}
	}

	return result, nil
}

// CheckBinary verifies the probe binary exists and is executable
func CheckBinary(binary string) error {
	path, err := exec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("%w: %s not found: %v", ErrLaunch, binary, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: cannot access %s: %v", ErrLaunch, path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrLaunch, path)
	}

	if info.Mode()&0111 == 0 {
		return fmt.Errorf("%w: %s is not executable", ErrLaunch, path)
	}

	log.Debugf("Probe binary found: %s", path)
	return nil
}
