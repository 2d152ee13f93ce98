package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldping/internal/types"
)

func TestTerminalReportInterim(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)

	require.NoError(t, term.ReportInterim(nil, 0))
	assert.Equal(t, "\rNo match found", buf.String())

	buf.Reset()
	require.NoError(t, term.ReportInterim(&types.WorldResult{WorldID: 20, AveragePing: 3}, 2))
	assert.Equal(t, "\rCurrent best match: World 20 (3.0ms); Checked 2 servers", buf.String())

	buf.Reset()
	require.NoError(t, term.ReportInterim(nil, 0))
	line := "\rNo match found"
	require.True(t, len(buf.String()) > len(line))
	assert.Equal(t, line, buf.String()[:len(line)])
	assert.Equal(t, len("\rCurrent best match: World 20 (3.0ms); Checked 2 servers"), len(buf.String()),
		"shorter line is padded over the previous one")

	buf.Reset()
	require.NoError(t, term.Finish())
	assert.Equal(t, "\n", buf.String())
}

func TestPrintResults(t *testing.T) {
	results := []types.WorldResult{
		{WorldID: 10, AveragePing: 5.0},
		{WorldID: 20, AveragePing: 3.0},
		{WorldID: 30, AveragePing: 4.0},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintResults(&buf, results, 5))
	assert.Equal(t, "World 20 (3.0ms)\nWorld 30 (4.0ms)\nWorld 10 (5.0ms)\n", buf.String())
}

func TestPrintResultsCount(t *testing.T) {
	results := []types.WorldResult{
		{WorldID: 1, AveragePing: 1.5},
		{WorldID: 2, AveragePing: 2.5},
		{WorldID: 3, AveragePing: 3.5},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintResults(&buf, results, 2))
	assert.Equal(t, "World 1 (1.5ms)\nWorld 2 (2.5ms)\n", buf.String())

	buf.Reset()
	require.NoError(t, PrintResults(&buf, results, 0))
	assert.Equal(t, "World 1 (1.5ms)\n", buf.String(), "at least one line when there are results")
}

func TestPrintResultsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintResults(&buf, nil, 5))
	assert.Empty(t, buf.String())
}

func TestFormatLatency(t *testing.T) {
	assert.Equal(t, "3.0", FormatLatency(3))
	assert.Equal(t, "15.234", FormatLatency(15.234))
	assert.Equal(t, "0.045", FormatLatency(0.045))
	assert.Equal(t, "120.0", FormatLatency(120))
}
