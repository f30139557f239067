// Package pattern holds the versioned erase pattern tables and the fill
// generators that turn a pass specification into bytes.
package pattern

import (
	"fmt"
	"sort"
	"strings"
)

// TableVersion identifies the pattern tables below. Bump it whenever a table
// changes so reports name exactly what was written.
const TableVersion = "1"

// Kind is the type of a pass specification.
type Kind int

const (
	Fixed Kind = iota
	Sequence
	Random
)

// Pass is one full-capacity overwrite.
type Pass struct {
	Kind  Kind
	Bytes []byte
}

func fixed(b byte) Pass       { return Pass{Kind: Fixed, Bytes: []byte{b}} }
func sequence(b ...byte) Pass { return Pass{Kind: Sequence, Bytes: b} }
func random() Pass            { return Pass{Kind: Random} }

func randoms(n int) []Pass {
	p := make([]Pass, n)
	for i := range p {
		p[i] = random()
	}
	return p
}

func (p Pass) String() string {
	if p.Kind == Random {
		return "random"
	}
	parts := make([]string, len(p.Bytes))
	for i, b := range p.Bytes {
		parts[i] = fmt.Sprintf("0x%02X", b)
	}
	return strings.Join(parts, " ")
}

// Pattern is a named, ordered list of passes.
type Pattern struct {
	Name        string
	Version     string
	Description string
	Passes      []Pass
}

var tables = map[string]Pattern{
	"quick": {
		Name:        "quick",
		Description: "single zero pass",
		Passes:      []Pass{fixed(0x00)},
	},
	"standard": {
		Name:        "standard",
		Description: "single random pass",
		Passes:      []Pass{random()},
	},
	"doe": {
		Name:        "doe",
		Description: "US DoE M 205.1-2, 3 passes",
		Passes:      []Pass{random(), fixed(0x00), random()},
	},
	"dod": {
		Name:        "dod",
		Description: "US DoD 5220.22-M ECE, 7 passes",
		Passes: []Pass{
			fixed(0x00), fixed(0xFF), random(),
			fixed(0x00), fixed(0xFF), random(), random(),
		},
	},
	"gutmann": {
		Name:        "gutmann",
		Description: "Peter Gutmann, 35 passes",
		Passes: concat(
			randoms(4),
			[]Pass{
				fixed(0x55), fixed(0xAA),
				sequence(0x92, 0x49, 0x24), sequence(0x49, 0x24, 0x92), sequence(0x24, 0x92, 0x49),
				fixed(0x00), fixed(0x11), fixed(0x22), fixed(0x33),
				fixed(0x44), fixed(0x55), fixed(0x66), fixed(0x77),
				fixed(0x88), fixed(0x99), fixed(0xAA), fixed(0xBB),
				fixed(0xCC), fixed(0xDD), fixed(0xEE), fixed(0xFF),
				sequence(0x92, 0x49, 0x24), sequence(0x49, 0x24, 0x92), sequence(0x24, 0x92, 0x49),
				sequence(0x6D, 0xB6, 0xDB), sequence(0xB6, 0xDB, 0x6D), sequence(0xDB, 0x6D, 0xB6),
			},
			randoms(4),
		),
	},
}

var aliases = map[string]string{
	"zero":      "quick",
	"zeros":     "quick",
	"random":    "standard",
	"dod7":      "dod",
	"dod-7":     "dod",
	"gutmann35": "gutmann",
}

func concat(parts ...[]Pass) []Pass {
	var out []Pass
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Lookup returns a copy of the named pattern. Names are case-insensitive.
func Lookup(name string) (Pattern, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if a, ok := aliases[key]; ok {
		key = a
	}
	t, ok := tables[key]
	if !ok {
		return Pattern{}, fmt.Errorf("unknown erase pattern %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	out := t
	out.Version = TableVersion
	out.Passes = make([]Pass, len(t.Passes))
	for i, p := range t.Passes {
		out.Passes[i] = Pass{Kind: p.Kind, Bytes: append([]byte(nil), p.Bytes...)}
	}
	return out, nil
}

// Names lists the patterns ordered by pass count.
func Names() []string {
	names := make([]string, 0, len(tables))
	for n := range tables {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := tables[names[i]], tables[names[j]]
		if len(a.Passes) != len(b.Passes) {
			return len(a.Passes) < len(b.Passes)
		}
		return names[i] < names[j]
	})
	return names
}
