package runner

import (
	"regexp"
	"strings"
)

// Progress bands. Initialization owns 0-5, work maps onto 5-95, and
// 100 is reached only through a confirmed successful completion so a
// log-parsing false positive can never report a finished run.
const (
	progressInit      = 5.0
	progressWork      = 90.0
	progressMax       = 95.0
	progressIncrement = 0.5
)

// TaskCounts seeds progress inference with the expected amount of work,
// taken from the evaluation config.
type TaskCounts struct {
	Variables   int
	RefSources  int
	SimSources  int
	Metrics     int
	Scores      int
	Groupby     int
	Comparisons int

	DoEvaluation bool
	DoComparison bool
	DoStatistics bool
}

func (c TaskCounts) total() int {
	refs := max(1, c.RefSources)
	sims := max(1, c.SimSources)

	total := 0
	if c.DoEvaluation {
		total += c.Variables * refs * sims
	}
	if c.DoComparison {
		if c.Comparisons > 0 {
			total += c.Comparisons
		}
		if c.Groupby > 0 {
			total += c.Variables * c.Groupby * max(1, c.Metrics+c.Scores)
		}
	}
	if c.DoStatistics && c.Comparisons > 0 {
		total += c.Comparisons
	}
	return max(1, total)
}

var (
	refMarker = regexp.MustCompile(`[-\s]ref:\s*(\S+)`)
	simMarker = regexp.MustCompile(`[-\s]sim:\s*(\S+)`)
	compDone  = regexp.MustCompile(`done running\s+(\w+)\s+comparison`)
)

var groupbyKinds = []string{"igbp", "pft", "climate", "landcover"}

// tracker infers coarse progress from unstructured evaluation output.
// It is best-effort: markers identify the active variable and source
// pair, completion words close exactly one unit of work, and seen-sets
// keep repeated log lines from double counting. Not safe for concurrent
// use; the runner goroutine owns it.
type tracker struct {
	counts TaskCounts
	total  int

	currentVar string
	currentRef string
	currentSim string
	progress   float64

	evalDone    map[[3]string]struct{}
	groupbyDone map[[2]string]struct{}
	compDone    map[string]struct{}
}

func newTracker(counts TaskCounts) *tracker {
	total := 0
	if counts.DoEvaluation || counts.DoComparison || counts.DoStatistics {
		total = counts.total()
	}
	return &tracker{
		counts:      counts,
		total:       total,
		progress:    progressInit,
		evalDone:    make(map[[3]string]struct{}),
		groupbyDone: make(map[[2]string]struct{}),
		compDone:    make(map[string]struct{}),
	}
}

// observe consumes one output line and returns the updated progress,
// the active variable, and the detected stage.
func (t *tracker) observe(line string) (float64, string, string) {
	lower := strings.ToLower(line)

	t.trackVariable(line, lower)
	t.trackSources(line, lower)

	stage := ""
	switch {
	case strings.Contains(lower, "evaluation") && !strings.Contains(lower, "item"):
		stage = "Evaluation"
	case strings.Contains(lower, "comparison") || strings.Contains(lower, "groupby"):
		stage = "Comparison"
		if m := compDone.FindStringSubmatch(lower); m != nil {
			t.compDone[m[1]] = struct{}{}
		}
	case strings.Contains(lower, "statistic"):
		stage = "Statistics"
	}

	completed := t.trackCompletions(lower, stage)
	t.advance(lower, stage, completed)
	return t.progress, t.currentVar, stage
}

// trackVariable extracts the token following a processing/evaluating
// marker as the active variable name.
func (t *tracker) trackVariable(line, lower string) {
	if !strings.Contains(lower, "processing") && !strings.Contains(lower, "evaluating") {
		return
	}
	for _, keyword := range []string{"Processing", "Evaluating", "processing", "evaluating"} {
		_, rest, found := strings.Cut(line, keyword)
		if !found {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			name := strings.Trim(fields[0], ".:,")
			if len(name) > 2 {
				t.currentVar = name
			}
		}
		return
	}
}

func (t *tracker) trackSources(line, lower string) {
	if strings.Contains(lower, " ref:") {
		if m := refMarker.FindStringSubmatch(line); m != nil {
			t.currentRef = strings.Trim(m[1], ",:")
		}
	} else if strings.Contains(lower, "ref_source") || strings.Contains(lower, "reference") {
		t.currentRef = lastColonToken(line)
	}

	if strings.Contains(lower, " sim:") {
		if m := simMarker.FindStringSubmatch(line); m != nil {
			t.currentSim = strings.Trim(m[1], ",:")
		}
	} else if strings.Contains(lower, "sim_source") || strings.Contains(lower, "simulation") {
		t.currentSim = lastColonToken(line)
	}
}

func lastColonToken(line string) string {
	parts := strings.Split(line, ":")
	if len(parts) < 2 {
		return ""
	}
	fields := strings.Fields(parts[len(parts)-1])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func isCompletionWord(lower string) bool {
	return strings.Contains(lower, "completed") ||
		strings.Contains(lower, "finished") ||
		strings.Contains(lower, "done")
}

// trackCompletions marks at most one logical unit of work done per
// distinct tuple and reports whether this line closed a new one.
func (t *tracker) trackCompletions(lower, stage string) bool {
	completed := false

	if stage == "Evaluation" && isCompletionWord(lower) && t.currentVar != "" {
		key := [3]string{t.currentVar, t.currentRef, t.currentSim}
		if _, seen := t.evalDone[key]; !seen {
			t.evalDone[key] = struct{}{}
			completed = true
		}
	}

	for _, kind := range groupbyKinds {
		if strings.Contains(lower, kind) && isCompletionWord(lower) {
			key := [2]string{t.currentVar, kind}
			if _, seen := t.groupbyDone[key]; !seen {
				t.groupbyDone[key] = struct{}{}
				completed = true
			}
		}
	}

	if stage == "Statistics" && (strings.Contains(lower, "completed") || strings.Contains(lower, "finished")) {
		name := t.currentVar
		if name == "" {
			name = "comparison"
		}
		if _, seen := t.compDone[name]; !seen {
			t.compDone[name] = struct{}{}
			completed = true
		}
	}

	return completed
}

// advance recomputes the clamped percentage from the completion sets,
// falling back to a slow crawl when no totals were supplied.
func (t *tracker) advance(lower, stage string, completed bool) {
	doneCount := len(t.evalDone) + len(t.groupbyDone) + len(t.compDone)

	switch {
	case t.total > 0:
		frac := float64(doneCount) / float64(t.total)
		t.progress = min(progressInit+frac*progressWork, progressMax)
	case completed || stage != "" || strings.Contains(lower, "complete") || strings.Contains(lower, "done"):
		t.progress = min(t.progress+progressIncrement*2, progressMax)
	}
}
