package guardrail

// HealthAlert reports an abnormal drop ratio. It is an observability
// signal recorded in the audit log, not a control-flow gate.
type HealthAlert struct {
	DropRatio float64        `json:"drop_ratio"`
	Dropped   map[string]int `json:"dropped"`
	Kept      int            `json:"kept"`
	Threshold float64        `json:"threshold"`
}

// EvaluateHealth returns an alert when the fraction of dropped tasks meets
// or exceeds threshold. A non-positive threshold disables the check.
func EvaluateHealth(dropped map[string]int, kept int, threshold float64) *HealthAlert {
	if threshold <= 0 {
		return nil
	}
	total := kept
	for _, n := range dropped {
		total += n
	}
	if total == 0 {
		return nil
	}
	ratio := float64(total-kept) / float64(total)
	if ratio < threshold {
		return nil
	}
	return &HealthAlert{
		DropRatio: ratio,
		Dropped:   dropped,
		Kept:      kept,
		Threshold: threshold,
	}
}
