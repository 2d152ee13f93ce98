package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/worldping/internal/ranking"
	"github.com/worldping/internal/types"
)

// Reporter receives the interim ranked view after every probe
type Reporter interface {
	ReportInterim(best *types.WorldResult, total int) error
}

// Terminal keeps a single status line up to date by rewriting it in place
type Terminal struct {
	mu      sync.Mutex
	w       *bufio.Writer
	lastLen int
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: bufio.NewWriter(w)}
}

// ReportInterim overwrites the status line and flushes it
func (t *Terminal) ReportInterim(best *types.WorldResult, total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := "No match found"
	if best != nil {
		line = fmt.Sprintf("Current best match: World %d (%sms); Checked %d servers",
			best.WorldID, FormatLatency(best.AveragePing), total)
	}

	// Pad over the remains of a longer previous line
	padding := ""
	if n := t.lastLen - len(line); n > 0 {
		padding = strings.Repeat(" ", n)
	}
	t.lastLen = len(line)

	if _, err := fmt.Fprintf(t.w, "\r%s%s", line, padding); err != nil {
		return err
	}
	return t.w.Flush()
}

// Finish ends the status line so the report starts on a fresh line
func (t *Terminal) Finish() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.w.WriteString("\n"); err != nil {
		return err
	}
	return t.w.Flush()
}

// PrintResults ranks results and writes the leading ranking.DisplayCount of
// them, one "World <id> (<latency>ms)" line each.
func PrintResults(w io.Writer, results []types.WorldResult, count int) error {
	ranking.Rank(results)

	bw := bufio.NewWriter(w)
	for _, result := range ranking.Top(results, count) {
		if _, err := fmt.Fprintf(bw, "World %d (%sms)\n", result.WorldID, FormatLatency(result.AveragePing)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FormatLatency renders ms with the shortest exact representation, keeping
// at least one decimal digit: 3 -> "3.0", 15.234 -> "15.234".
func FormatLatency(ms float64) string {
	s := strconv.FormatFloat(ms, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
