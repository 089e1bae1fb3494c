package scenario

import "creditnet-lab/internal/domain"

// StressMultiplier resolves the combined stress multiplier for a sender at
// the given simulated time: the product of every active stress event whose
// scope covers "all", the sender's group, or the sender's profile.
func StressMultiplier(sc *domain.Scenario, sender *domain.Participant, simMs int64) float64 {
	mult := 1.0
	for _, ev := range sc.Timeline {
		if !ev.ActiveAt(simMs) {
			continue
		}
		st := ev.Stress
		switch st.Scope {
		case domain.StressScopeAll:
			mult *= st.Multiplier
		case domain.StressScopeGroup:
			if sender != nil && sender.Group == st.Target {
				mult *= st.Multiplier
			}
		case domain.StressScopeProfile:
			if sender != nil && sender.Profile == st.Target {
				mult *= st.Multiplier
			}
		}
	}
	return mult
}
