package probe

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrSummaryParse means an extracted summary field was not a number
var ErrSummaryParse = errors.New("parse probe summary")

// summaryRegex matches the ping statistics line, e.g.
// "rtt min/avg/max/mdev = 10.1/15.234/20.0/2.0 ms". BSD ping says stddev.
// A field is digits with at most one dot, either side may be empty (".5", "5.").
var summaryRegex = regexp.MustCompile(`min/avg/max/(?:mdev|stddev) = ([0-9]*\.?[0-9]*)/([0-9]*\.?[0-9]*)/([0-9]*\.?[0-9]*)/([0-9]*\.?[0-9]*)`)

// DecodeOutput turns raw probe output into text, replacing invalid UTF-8
func DecodeOutput(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "\uFFFD")
}

// ParseAverages returns the avg field of every summary line in text, in order.
// No summary line yields an empty slice and no error.
func ParseAverages(text string) ([]float64, error) {
	matches := summaryRegex.FindAllStringSubmatch(text, -1)
	averages := make([]float64, 0, len(matches))

	for _, match := range matches {
		avg, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: avg %q: %v", ErrSummaryParse, match[2], err)
		}
		averages = append(averages, avg)
	}

	return averages, nil
}
