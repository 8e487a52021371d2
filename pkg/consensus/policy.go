package consensus

import (
	"fmt"
	"strings"
)

// scoreEpsilon absorbs float error when averaging rates such as 3/5.
const scoreEpsilon = 1e-9

// Policy turns validator responses into verdicts and a decision.
type Policy interface {
	// Name identifies the policy in logs and metrics.
	Name() string
	// Rate returns the pass rate of one response, in [0, 1].
	Rate(response string) float64
	// VerdictPassed reports whether a single rate counts as a pass.
	VerdictPassed(rate float64) bool
	// Decide aggregates verdicts into a decision, score and feedback.
	Decide(verdicts []Verdict) (passed bool, score float64, feedback string)
}

// BinaryVote passes a response that starts with YES and needs Required
// passing verdicts overall.
type BinaryVote struct {
	Required int
}

// Name implements Policy.
func (BinaryVote) Name() string { return "binary" }

// Rate implements Policy.
func (BinaryVote) Rate(response string) float64 {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(response)), "YES") {
		return 1
	}
	return 0
}

// VerdictPassed implements Policy.
func (BinaryVote) VerdictPassed(rate float64) bool { return rate >= 1 }

// Decide implements Policy. Feedback names each failing validator followed
// by its answer with the leading verdict marker dropped.
func (p BinaryVote) Decide(verdicts []Verdict) (bool, float64, string) {
	required := p.Required
	if required <= 0 {
		required = len(verdicts)/2 + 1
	}

	votes := 0
	for _, v := range verdicts {
		if v.Passed {
			votes++
		}
	}
	score := meanRate(verdicts)
	if votes >= required {
		return true, score, ""
	}

	parts := []string{"Code validation failed."}
	for _, v := range verdicts {
		if v.Passed {
			continue
		}
		detail := strings.TrimSpace(v.Response)
		if v.Err == nil {
			if len(detail) <= 3 {
				continue
			}
			detail = strings.TrimSpace(detail[3:])
		}
		parts = append(parts, fmt.Sprintf("%s: %s", v.Validator, detail))
	}
	return false, score, strings.Join(parts, " ")
}

// Scored asks a fixed number of questions per validator. A validator's rate
// is the share of answer lines starting with YES; the mean must reach
// Threshold.
type Scored struct {
	Questions int
	Threshold float64
}

// Name implements Policy.
func (Scored) Name() string { return "scored" }

// Rate implements Policy.
func (p Scored) Rate(response string) float64 {
	questions := p.Questions
	if questions <= 0 {
		questions = 5
	}
	yes := 0
	for _, line := range strings.Split(response, "\n") {
		if strings.HasPrefix(strings.ToUpper(trimListMarker(line)), "YES") {
			yes++
		}
	}
	rate := float64(yes) / float64(questions)
	if rate > 1 {
		rate = 1
	}
	return rate
}

// VerdictPassed implements Policy.
func (p Scored) VerdictPassed(rate float64) bool {
	return rate+scoreEpsilon >= p.threshold()
}

// Decide implements Policy. Feedback concatenates the responses of the
// validators that fell below the threshold.
func (p Scored) Decide(verdicts []Verdict) (bool, float64, string) {
	score := meanRate(verdicts)

	var parts []string
	for _, v := range verdicts {
		if !v.Passed {
			parts = append(parts, fmt.Sprintf("%s: %s", v.Validator, strings.TrimSpace(v.Response)))
		}
	}
	return score+scoreEpsilon >= p.threshold(), score, strings.Join(parts, "\n")
}

func (p Scored) threshold() float64 {
	if p.Threshold <= 0 {
		return 0.6
	}
	return p.Threshold
}

// trimListMarker drops enumeration such as "1.", "2)", "-" or "*" so that
// "1. YES, ..." counts as a YES line.
func trimListMarker(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "*-• ")
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')' || line[i] == ':') {
		line = line[i+1:]
	}
	return strings.TrimLeft(strings.TrimSpace(line), "*")
}

func meanRate(verdicts []Verdict) float64 {
	if len(verdicts) == 0 {
		return 0
	}
	var total float64
	for _, v := range verdicts {
		total += v.PassRate
	}
	return total / float64(len(verdicts))
}

// PolicyByName builds a policy from configuration values.
func PolicyByName(name string, required, questions int, threshold float64) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "binary", "vote":
		return BinaryVote{Required: required}, nil
	case "scored", "score":
		return Scored{Questions: questions, Threshold: threshold}, nil
	default:
		return nil, fmt.Errorf("unknown consensus policy %q", name)
	}
}
