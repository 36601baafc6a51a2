// Package impact computes the risk/benefit verdict for a decision option.
// The analysis is a pure function of the decision and option: it never reads
// or writes workflow state, so it is safe to retry and to run concurrently.
package impact

import (
	"fmt"
	"strings"
	"time"

	"pipeboard/api/internal/decision"
)

// probabilityByLevel maps an option's declared impact to the likelihood that
// its consequences materialize. Coarse on purpose: the inputs are human
// estimates, not measurements.
var probabilityByLevel = map[decision.ImpactLevel]float64{
	decision.ImpactLow:      0.2,
	decision.ImpactMedium:   0.45,
	decision.ImpactHigh:     0.7,
	decision.ImpactCritical: 0.9,
}

// Analyze produces the impact analysis for one of the decision's options.
// The option must belong to the decision; callers validate ids first via
// decision.ValidateOption.
func Analyze(d decision.Decision, optionID string, now time.Time) (decision.ImpactAnalysis, error) {
	opt, ok := d.OptionByID(optionID)
	if !ok {
		return decision.ImpactAnalysis{}, fmt.Errorf("option %s not found on decision %s", optionID, d.ID)
	}

	analysis := decision.ImpactAnalysis{
		OptionID:        opt.ID,
		Risks:           riskProfile(d, opt),
		Benefits:        benefitProfile(opt),
		Recommendations: recommendations(d, opt, now),
	}
	analysis.Metrics = metrics(d, analysis)
	return analysis, nil
}

func riskProfile(d decision.Decision, opt decision.Option) []decision.Risk {
	probability := probabilityByLevel[opt.Impact]
	if probability == 0 {
		probability = 0.5
	}

	risks := make([]decision.Risk, 0, len(opt.Consequences)+1)
	for _, consequence := range opt.Consequences {
		risk := decision.Risk{
			Description: consequence,
			Severity:    opt.Impact,
			Probability: probability,
		}
		if len(opt.Requirements) > 0 {
			risk.Mitigation = "verify prerequisites: " + strings.Join(opt.Requirements, ", ")
		}
		risks = append(risks, risk)
	}

	// An option with no declared consequences still carries its own impact
	// level as a baseline hazard, so the verdict is never empty on the risk
	// side.
	if len(opt.Consequences) == 0 {
		risk := decision.Risk{
			Description: "applying this option carries " + string(opt.Impact) + " impact",
			Severity:    opt.Impact,
			Probability: probability,
		}
		if len(opt.Requirements) > 0 {
			risk.Mitigation = "verify prerequisites: " + strings.Join(opt.Requirements, ", ")
		}
		risks = append(risks, risk)
	}

	// An option riskier than the decision's own urgency carries an extra
	// escalation hazard.
	if opt.Impact.Rank() > d.Urgency.Rank() {
		risks = append(risks, decision.Risk{
			Description: "option impact exceeds the decision's urgency level",
			Severity:    opt.Impact,
			Probability: 0.3,
			Mitigation:  "confirm with the pipeline owner before applying",
		})
	}
	return risks
}

func benefitProfile(opt decision.Option) []decision.Benefit {
	confidence := 0.6
	if opt.AutomaticApplicable {
		confidence = 0.85
	}
	benefits := []decision.Benefit{
		{
			Description: "resolves the decision: " + opt.Title,
			Impact:      opt.Impact,
			Confidence:  confidence,
		},
	}
	if opt.AutomaticApplicable {
		benefits = append(benefits, decision.Benefit{
			Description: "can be applied without manual intervention",
			Impact:      decision.ImpactLow,
			Confidence:  0.95,
		})
	}
	return benefits
}

func recommendations(d decision.Decision, opt decision.Option, now time.Time) []string {
	var recs []string
	if opt.AutomaticApplicable {
		recs = append(recs, "eligible for automatic application")
	}
	if len(opt.Requirements) > 0 {
		recs = append(recs, "satisfy requirements before applying: "+strings.Join(opt.Requirements, ", "))
	}
	if decision.IsExpiringSoon(d, now) {
		recs = append(recs, "decision expires within 24h; act promptly")
	}
	if opt.Impact == decision.ImpactCritical {
		recs = append(recs, "critical impact: require a second reviewer")
	}
	if len(recs) == 0 {
		recs = append(recs, "no special handling required")
	}
	return recs
}

func metrics(d decision.Decision, analysis decision.ImpactAnalysis) map[string]float64 {
	var riskScore, benefitScore float64
	for _, risk := range analysis.Risks {
		riskScore += float64(risk.Severity.Rank()+1) * risk.Probability
	}
	for _, benefit := range analysis.Benefits {
		benefitScore += float64(benefit.Impact.Rank()+1) * benefit.Confidence
	}
	return map[string]float64{
		"riskScore":    riskScore,
		"benefitScore": benefitScore,
		"riskCount":    float64(len(analysis.Risks)),
		"optionCount":  float64(len(d.Options)),
	}
}
