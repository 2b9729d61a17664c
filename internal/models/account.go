package models

// ToolGlobal is the pseudo tool id for pure top-ups and global draws.
const ToolGlobal = "global"

// Bucket is a specialized credit pocket usable only by one tool.
type Bucket struct {
	ToolID  string `json:"toolId"`
	Label   string `json:"label"`
	Balance int64  `json:"balance"`
}

// Account holds a student's sovereign balance plus specialized buckets.
// Both the global balance and every bucket balance stay >= 0; the
// repositories enforce this on every write.
type Account struct {
	ID            string            `json:"id"`
	GlobalBalance int64             `json:"globalBalance"`
	Buckets       map[string]Bucket `json:"buckets"`
	CreatedAt     int64             `json:"createdAt"`
}

// BalanceSnapshot is the read-only view returned by balance queries and
// alongside every applied wallet operation.
type BalanceSnapshot struct {
	GlobalBalance int64             `json:"globalBalance"`
	Buckets       map[string]Bucket `json:"buckets"`
}

func (a *Account) Snapshot() BalanceSnapshot {
	buckets := make(map[string]Bucket, len(a.Buckets))
	for id, b := range a.Buckets {
		buckets[id] = b
	}
	return BalanceSnapshot{GlobalBalance: a.GlobalBalance, Buckets: buckets}
}
