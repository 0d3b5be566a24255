package escp

import (
	"bytes"
	"fmt"
)

// NozzleCheckResult holds one entry per nozzle position; true means blocked.
type NozzleCheckResult []bool

// Any reports whether at least one nozzle is blocked.
func (r NozzleCheckResult) Any() bool {
	for _, b := range r {
		if b {
			return true
		}
	}
	return false
}

// CleaningGroup identifies a set of nozzles cleaned together.
type CleaningGroup int

// Nozzle describes one physical nozzle position.
type Nozzle struct {
	Short string
	Long  string
	Group CleaningGroup
}

// Position order matches the PS nozzle line.
var nozzleTable = [...]Nozzle{
	{"GR", "Green", 3},
	{"LLK", "Light Light Black", 4},
	{"Y", "Yellow", 4},
	{"LC", "Light Cyan", 5},
	{"VLM", "Vivid Light Magenta", 5},
	{"OR", "Orange", 3},
	{"MK", "Matte Black", 2},
	{"VM", "Vivid Magenta", 1},
	{"LK", "Light Black", 2},
	{"C", "Cyan", 1},
	{"PK", "Photo Black", 2},
}

var groupLabels = [...]string{
	1: "C/VM",
	2: "PK(MK)/LK",
	3: "OR/GR",
	4: "LLK/Y",
	5: "VLM/LC",
}

// NozzleCount is the number of nozzle positions reported by the printer.
const NozzleCount = len(nozzleTable)

// Nozzles returns the nozzle table in position order.
func Nozzles() []Nozzle {
	out := make([]Nozzle, len(nozzleTable))
	copy(out, nozzleTable[:])
	return out
}

// ShortNames returns the short nozzle names in position order.
func ShortNames() []string {
	names := make([]string, len(nozzleTable))
	for i, n := range nozzleTable {
		names[i] = n.Short
	}
	return names
}

// NozzleByShortName looks a nozzle up by its short name (e.g. "PK").
func NozzleByShortName(name string) (Nozzle, error) {
	for _, n := range nozzleTable {
		if n.Short == name {
			return n, nil
		}
	}
	return Nozzle{}, fmt.Errorf("%w: %q", ErrNozzleNotFound, name)
}

// GroupByID validates a cleaning group id.
func GroupByID(id int) (CleaningGroup, error) {
	if id < MinGroup || id > MaxGroup {
		return 0, fmt.Errorf("%w: %d", ErrGroupNotFound, id)
	}
	return CleaningGroup(id), nil
}

// CleaningGroups returns all group ids in ascending order.
func CleaningGroups() []CleaningGroup {
	groups := make([]CleaningGroup, 0, MaxGroup)
	for id := MinGroup; id <= MaxGroup; id++ {
		groups = append(groups, CleaningGroup(id))
	}
	return groups
}

// String returns the group label, e.g. "C/VM".
func (g CleaningGroup) String() string {
	if g < MinGroup || g > MaxGroup {
		return fmt.Sprintf("group %d", int(g))
	}
	return groupLabels[g]
}

// Members returns the nozzles of the group in position order.
func (g CleaningGroup) Members() []Nozzle {
	var out []Nozzle
	for _, n := range nozzleTable {
		if n.Group == g {
			out = append(out, n)
		}
	}
	return out
}

// BlockedNozzles returns the blocked nozzles in position order.
func BlockedNozzles(r NozzleCheckResult) ([]Nozzle, error) {
	if len(r) != len(nozzleTable) {
		return nil, fmt.Errorf("%w: got %d results, table has %d nozzles", ErrNozzleCountMismatch, len(r), len(nozzleTable))
	}
	var out []Nozzle
	for i, blocked := range r {
		if blocked {
			out = append(out, nozzleTable[i])
		}
	}
	return out, nil
}

// BlockedNames returns the long names of the blocked nozzles in position order.
func BlockedNames(r NozzleCheckResult) ([]string, error) {
	nozzles, err := BlockedNozzles(r)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(nozzles))
	for i, n := range nozzles {
		names[i] = n.Long
	}
	return names, nil
}

// DecodeNozzleCheck decodes a PS nozzle check frame:
//
//	@BDC PS\r\nnc:DD,DD,...,DD;
//
// Any number of two-digit entries is accepted.
func DecodeNozzleCheck(raw []byte) (NozzleCheckResult, error) {
	start, ok := findMarker(raw, NozzleMarker)
	if !ok {
		return nil, decodeErr(ErrMalformedHeader, 0, -1, "%q not found", NozzleMarker)
	}
	line := raw[start:]
	if !bytes.HasPrefix(line, []byte("nc:")) {
		return nil, decodeErr(ErrMalformedNozzleLine, 0, start, "missing \"nc:\" prefix")
	}
	end := bytes.IndexByte(line, ';')
	if end < 0 {
		return nil, decodeErr(ErrMalformedNozzleLine, 0, start, "missing terminating ';'")
	}

	body := line[3:end]
	var result NozzleCheckResult
	for i, tok := range bytes.Split(body, []byte(",")) {
		if len(tok) != 2 || !isDigit(tok[0]) || !isDigit(tok[1]) {
			return nil, decodeErr(ErrMalformedNozzleLine, 0, start, "entry %d is %q, want two digits", i, tok)
		}
		v := int(tok[0]-'0')*10 + int(tok[1]-'0')
		result = append(result, v > 0)
	}
	return result, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
