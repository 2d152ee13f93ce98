package worlds

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrInvalidWorldToken is returned when an explicit world is not an integer
	ErrInvalidWorldToken = errors.New("invalid world token")
	// ErrConflictingModes is returned when more than one selection mode is requested
	ErrConflictingModes = errors.New("conflicting world selection modes")
)

// MembersWorlds is the restricted (subscription-only) world list, in reference order.
// World 132 is listed twice, so an all-worlds or members run probes it twice.
var MembersWorlds = []int{
	1, 2, 4, 5, 6, 9, 10, 12, 13, 14, 15, 16, 18, 21, 22, 23, 24, 25, 26, 27, 28,
	30, 31, 32, 35, 36, 37, 39, 40, 42, 44, 45, 46, 47, 48, 49, 50, 51, 52, 53,
	54, 55, 56, 58, 59, 60, 62, 65, 66, 67, 68, 69, 70, 73, 74, 75, 76, 77, 78,
	82, 83, 84, 85, 86, 93, 94, 95, 96, 97, 98, 99, 100, 101, 102, 103, 104, 105,
	106, 107, 109, 110, 111, 112, 113, 114, 115, 116, 117, 118, 119, 121, 122,
	123, 124, 125, 126, 127, 128, 129, 130, 131, 132, 132, 133, 134, 137, 138, 139, 140,
}

// FreeWorlds is the open (free-to-play) world list, in reference order.
var FreeWorlds = []int{
	3, 7, 8, 11, 17, 19, 20, 29, 33, 34, 38, 41, 43, 57, 61, 81, 108, 120, 135, 136,
}

// Mode selects which worlds are probed
type Mode int

const (
	AllWorlds Mode = iota
	MembersOnly
	FreeOnly
	Explicit
)

func (m Mode) String() string {
	switch m {
	case AllWorlds:
		return "all"
	case MembersOnly:
		return "members"
	case FreeOnly:
		return "free"
	case Explicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// Selection is a resolved world selection request
type Selection struct {
	Mode   Mode
	Tokens []string // raw tokens, Explicit mode only
}

// NewSelection builds a Selection from the command line switches.
// At most one of membersOnly, freeOnly and tokens may be set.
func NewSelection(membersOnly, freeOnly bool, tokens []string) (Selection, error) {
	requested := 0
	sel := Selection{Mode: AllWorlds}

	if membersOnly {
		requested++
		sel.Mode = MembersOnly
	}
	if freeOnly {
		requested++
		sel.Mode = FreeOnly
	}
	if len(tokens) > 0 {
		requested++
		sel.Mode = Explicit
		sel.Tokens = tokens
	}

	if requested > 1 {
		return Selection{}, fmt.Errorf("%w: choose one of members-only, ftp-only or worlds", ErrConflictingModes)
	}
	return sel, nil
}

// Resolver turns a Selection into the ordered list of worlds to probe
type Resolver struct {
	Members []int
	Free    []int
	Log     log.FieldLogger
}

// NewResolver returns a Resolver over the built-in world tables
func NewResolver() *Resolver {
	return &Resolver{
		Members: MembersWorlds,
		Free:    FreeWorlds,
		Log:     log.StandardLogger(),
	}
}

// Resolve returns the target list for sel. Explicit worlds that are not in
// either reference list are skipped with a warning; a token that is not an
// integer fails the whole resolution.
func (r *Resolver) Resolve(sel Selection) ([]int, error) {
	switch sel.Mode {
	case AllWorlds:
		targets := make([]int, 0, len(r.Members)+len(r.Free))
		targets = append(targets, r.Members...)
		return append(targets, r.Free...), nil
	case MembersOnly:
		return append([]int(nil), r.Members...), nil
	case FreeOnly:
		return append([]int(nil), r.Free...), nil
	case Explicit:
		return r.resolveExplicit(sel.Tokens)
	default:
		return nil, fmt.Errorf("unknown selection mode %d", sel.Mode)
	}
}

func (r *Resolver) resolveExplicit(tokens []string) ([]int, error) {
	ids := make([]int, 0, len(tokens))
	for _, token := range tokens {
		id, err := strconv.Atoi(strings.TrimSpace(token))
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidWorldToken, token, err)
		}
		ids = append(ids, id)
	}

	known := make(map[int]struct{}, len(r.Members)+len(r.Free))
	for _, id := range r.Members {
		known[id] = struct{}{}
	}
	for _, id := range r.Free {
		known[id] = struct{}{}
	}

	targets := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			r.logger().WithField("world", id).Warnf("World %d is not a known world, skipping", id)
			continue
		}
		targets = append(targets, id)
	}

	return targets, nil
}

func (r *Resolver) logger() log.FieldLogger {
	if r.Log == nil {
		return log.StandardLogger()
	}
	return r.Log
}
