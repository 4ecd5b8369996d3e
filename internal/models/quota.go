package models

// Unlimited is the limit value used by paid tiers.
const Unlimited = -1

// TierPolicy bounds how many questions a tier may ask. A negative limit is
// unlimited.
type TierPolicy struct {
	PerAnalysisLimit int `json:"perAnalysisLimit"`
	MonthlyLimit     int `json:"monthlyLimit"`
}

// QuotaDecision is the answer to "may this question be asked?". Remaining is
// what is left once the question is counted.
type QuotaDecision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

// QuotaStatus is the read-only projection shown next to the chat input.
type QuotaStatus struct {
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
	Unlimited bool `json:"unlimited"`
}
