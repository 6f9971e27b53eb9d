package models

// Round types. Rounds are append-only audit records: one row per attempted
// buy or reward execution, inserted whether or not the attempt succeeded.
const (
	RoundTypeBuy    = "buy"
	RoundTypeReward = "reward"
)

// Lock types for the durable single-flight table.
const (
	LockBuyJob    = "buy_job"
	LockRewardJob = "reward_job"
)

// Round is one completed or attempted execution of the buy or reward job.
type Round struct {
	ID   string                 `json:"id"`
	Type string                 `json:"type"`
	Ts   int64                  `json:"ts"`
	Txs  []string               `json:"txs"`
	Meta map[string]interface{} `json:"meta"`
}

// FirstTx returns the first signature of the round, or "" when none were
// confirmed.
func (r *Round) FirstTx() string {
	if len(r.Txs) == 0 {
		return ""
	}
	return r.Txs[0]
}
