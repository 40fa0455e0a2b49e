package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/component"
)

// AmbiguityLevel controls how a stage reports systems with conflicting access and no order between
// them.
type AmbiguityLevel uint8

const (
	// AmbiguityAllow reports nothing.
	AmbiguityAllow AmbiguityLevel = iota
	// AmbiguityWarn logs the number of ambiguities.
	AmbiguityWarn
	// AmbiguityWarnVerbose logs every ambiguous pair and what it conflicts on.
	AmbiguityWarnVerbose
	// AmbiguityWarnInternal is AmbiguityWarnVerbose without the ignore list.
	AmbiguityWarnInternal
	// AmbiguityDeny panics on the first stage with ambiguities, honouring the ignore policies.
	AmbiguityDeny
	// AmbiguityForbid panics on any ambiguity and disregards every ignore policy.
	AmbiguityForbid
)

var ambiguityLevelNames = [...]string{"Allow", "Warn", "WarnVerbose", "WarnInternal", "Deny", "Forbid"}

func (l AmbiguityLevel) String() string {
	if int(l) < len(ambiguityLevelNames) {
		return ambiguityLevelNames[l]
	}
	return "AmbiguityLevel(" + strconv.Itoa(int(l)) + ")"
}

// ParseAmbiguityLevel accepts the level names case-insensitively, with or without separators.
func ParseAmbiguityLevel(s string) (AmbiguityLevel, error) {
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(s))
	for i, name := range ambiguityLevelNames {
		if strings.ToLower(name) == norm {
			return AmbiguityLevel(i), nil
		}
	}
	return AmbiguityAllow, eris.Errorf("unknown ambiguity level %q", s)
}

// Segment identifies where in a stage a system runs.
type Segment uint8

const (
	SegmentParallel Segment = iota
	SegmentExclusiveAtStart
	SegmentExclusiveBeforeCommands
	SegmentExclusiveAtEnd
)

func (s Segment) String() string {
	switch s {
	case SegmentParallel:
		return "Parallel"
	case SegmentExclusiveAtStart:
		return "ExclusiveAtStart"
	case SegmentExclusiveBeforeCommands:
		return "ExclusiveBeforeCommands"
	case SegmentExclusiveAtEnd:
		return "ExclusiveAtEnd"
	}
	return "Segment(?)"
}

// SystemOrderAmbiguity is a pair of systems that may run in either order while touching the same
// data. Conflicts lists the component and resource names, or "World" when the pair conflicts on
// everything.
type SystemOrderAmbiguity struct {
	SystemNames [2]string
	Conflicts   []string
	Segment     Segment
}

type ambiguousPair struct {
	a, b      int
	conflicts []component.KindID
}

// ambiguityPolicy decides which pairs are left out of a report.
type ambiguityPolicy struct {
	ignoreLabels bool
	prefixes     []string
}

func (p ambiguityPolicy) ignored(a, b *SystemContainer) bool {
	if !p.ignoreLabels {
		return false
	}
	if a.ignoreAll || b.ignoreAll {
		return true
	}
	for _, l := range a.ambiguousWith {
		if b.hasLabel(l) {
			return true
		}
	}
	for _, l := range b.ambiguousWith {
		if a.hasLabel(l) {
			return true
		}
	}
	return hasAnyPrefix(a.Name(), p.prefixes) && hasAnyPrefix(b.Name(), p.prefixes)
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// findAmbiguities lists the pairs of systems in one sorted segment that have no transitive order
// between them and may conflict. Exclusive systems conflict with everything.
func findAmbiguities(systems []*SystemContainer, exclusive bool, policy ambiguityPolicy) []ambiguousPair {
	n := len(systems)
	related := make([][]bool, n)
	for i := range related {
		related[i] = make([]bool, n)
	}
	// Dependencies always point to lower positions, so one forward pass collects every ancestor.
	for i, c := range systems {
		for _, dep := range c.dependencies {
			related[i][dep] = true
			for k := 0; k < n; k++ {
				if related[dep][k] {
					related[i][k] = true
				}
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < i; j++ {
			if related[i][j] {
				related[j][i] = true
			}
		}
	}

	var pairs []ambiguousPair
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			if related[a][b] || policy.ignored(systems[a], systems[b]) {
				continue
			}
			if exclusive {
				pairs = append(pairs, ambiguousPair{a: a, b: b})
				continue
			}
			setA := systems[a].system.Meta().ComponentAccess()
			setB := systems[b].system.Meta().ComponentAccess()
			if !setA.IsCompatible(setB) {
				conflicts := setA.Combined().GetConflicts(setB.Combined())
				pairs = append(pairs, ambiguousPair{a: a, b: b, conflicts: conflicts})
			}
		}
	}
	return pairs
}

// Ambiguities initializes the stage against w if needed and returns its execution order ambiguities
// as they would be reported at level.
func (s *SystemStage) Ambiguities(w *ecs.World, level AmbiguityLevel) []SystemOrderAmbiguity {
	s.prepare(w)
	if level == AmbiguityAllow {
		return nil
	}
	policy := ambiguityPolicy{ignoreLabels: level != AmbiguityForbid}
	if level != AmbiguityWarnInternal && level != AmbiguityForbid {
		policy.prefixes = s.ambiguityIgnore
	}

	var out []SystemOrderAmbiguity
	collect := func(systems []*SystemContainer, exclusive bool, segment Segment) {
		for _, p := range findAmbiguities(systems, exclusive, policy) {
			conflicts := []string{"World"}
			if len(p.conflicts) > 0 {
				conflicts = make([]string, len(p.conflicts))
				for i, k := range p.conflicts {
					conflicts[i] = shortName(w.Components().Info(k).Name())
				}
			}
			out = append(out, SystemOrderAmbiguity{
				SystemNames: [2]string{systems[p.a].Name(), systems[p.b].Name()},
				Conflicts:   conflicts,
				Segment:     segment,
			})
		}
	}
	collect(s.exclusiveAtStart, true, SegmentExclusiveAtStart)
	collect(s.parallel, false, SegmentParallel)
	collect(s.exclusiveBeforeCommands, true, SegmentExclusiveBeforeCommands)
	collect(s.exclusiveAtEnd, true, SegmentExclusiveAtEnd)
	return out
}

func (s *SystemStage) AmbiguityCount(w *ecs.World, level AmbiguityLevel) int {
	return len(s.Ambiguities(w, level))
}

// AmbiguityReport renders the ambiguities of the stage at level, or returns "" if there are none.
func (s *SystemStage) AmbiguityReport(w *ecs.World, level AmbiguityLevel) string {
	return formatAmbiguities(s.Ambiguities(w, level), level)
}

func formatAmbiguities(ambiguities []SystemOrderAmbiguity, level AmbiguityLevel) string {
	if len(ambiguities) == 0 {
		return ""
	}
	var b strings.Builder
	plural := "s"
	if len(ambiguities) == 1 {
		plural = ""
	}
	fmt.Fprintf(&b, "One of your stages contains %d pair%s of systems with unknown order and conflicting data access.\n", len(ambiguities), plural)
	b.WriteString("You may want to add Before or After ordering constraints between some of these systems to prevent bugs.\n")
	if level == AmbiguityWarn {
		b.WriteString("Set the ambiguity level to WarnVerbose for more details.")
		return b.String()
	}
	for i, a := range ambiguities {
		quoted := make([]string, len(a.Conflicts))
		for j, c := range a.Conflicts {
			quoted[j] = strconv.Quote(c)
		}
		fmt.Fprintf(&b, "\n%d. `%s` conflicts with `%s` on [%s]",
			i+1, shortName(a.SystemNames[0]), shortName(a.SystemNames[1]), strings.Join(quoted, ", "))
	}
	b.WriteString("\n")
	return b.String()
}

// reportAmbiguities logs the ambiguities of the stage at level and returns how many there were.
// Deny and Forbid panic instead of returning.
func (s *SystemStage) reportAmbiguities(w *ecs.World, level AmbiguityLevel) int {
	ambiguities := s.Ambiguities(w, level)
	if len(ambiguities) == 0 {
		return 0
	}
	report := formatAmbiguities(ambiguities, level)
	logger := s.log(w)
	if level == AmbiguityDeny || level == AmbiguityForbid {
		logger.Error(report, "ambiguities", len(ambiguities))
		panic(wrapf(ErrAmbiguousExecutionOrder,
			"ambiguity level is %v, which forbids running while systems with conflicting data access have ambiguous order", level))
	}
	logger.Warn(report, "ambiguities", len(ambiguities))
	return len(ambiguities)
}

// shortName strips package paths, keeping generic arguments readable:
// "github.com/x/game.Velocity[github.com/x/math.Vec2]" becomes "Velocity[Vec2]".
func shortName(name string) string {
	var b strings.Builder
	start := 0
	flush := func(end int) {
		segment := name[start:end]
		if i := strings.LastIndexByte(segment, '/'); i >= 0 {
			segment = segment[i+1:]
		}
		if i := strings.IndexByte(segment, '.'); i >= 0 {
			segment = segment[i+1:]
		}
		b.WriteString(segment)
	}
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '[', ']', ',', ' ', '*':
			flush(i)
			b.WriteByte(name[i])
			start = i + 1
		}
	}
	flush(len(name))
	return b.String()
}
