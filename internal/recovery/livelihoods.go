package recovery

// LivelihoodImpact summarizes a scenario's effect on fishing communities:
// short-term job displacement from area closures against long-term job
// creation once spillover from recovered stocks takes hold.
type LivelihoodImpact struct {
	CurrentJobs       float64 `json:"current_jobs"`
	JobsDisplaced     float64 `json:"jobs_displaced"`
	JobsFromSpillover float64 `json:"jobs_from_spillover"`
	NetJobs           float64 `json:"net_jobs"`
	EconomicValueUSD  float64 `json:"economic_value_usd"`
	YearsToSpillover  int     `json:"years_to_spillover"`
}

// LivelihoodImpact translates an expansion scenario into community
// outcomes. Current employment is estimated from annual effort hours; the
// closed fraction displaces a configured share of its jobs in the short
// term, while spillover from the recovered area supports a larger long-term
// workforce. Spillover benefits are counted only if the stock breaks even
// within the configured spillover lag (a breakeven of -1 never qualifies).
func (s *Simulator) LivelihoodImpact(expansionPercent, protectedFraction, effortHours float64, breakevenYear int) LivelihoodImpact {
	currentJobs := effortHours / s.cfg.HoursPerJob

	displaced := currentJobs * protectedFraction * s.cfg.ClosureJobShare

	var spillover float64
	if breakevenYear >= 0 && breakevenYear <= s.cfg.YearsToSpillover {
		spillover = displaced * s.cfg.SpilloverFactor
	}

	net := spillover - displaced

	return LivelihoodImpact{
		CurrentJobs:       currentJobs,
		JobsDisplaced:     displaced,
		JobsFromSpillover: spillover,
		NetJobs:           net,
		EconomicValueUSD:  net * s.cfg.IncomePerJobUSD,
		YearsToSpillover:  s.cfg.YearsToSpillover,
	}
}
