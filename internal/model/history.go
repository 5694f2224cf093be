package model

import "time"

type SignalStatus string

const (
	StatusPending              SignalStatus = "pending"
	StatusRejected             SignalStatus = "rejected"
	StatusCompleted            SignalStatus = "completed"
	StatusPartiallyCompleted   SignalStatus = "partially_completed"
	StatusFailed               SignalStatus = "failed"
	StatusSkippedNoSubscribers SignalStatus = "skipped_no_subscribers"
)

func (s SignalStatus) Terminal() bool {
	return s != StatusPending
}

type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is one subscriber's outcome for a signal.
type Execution struct {
	UserID         int64           `json:"user_id"`
	SubscriptionID int64           `json:"subscription_id"`
	Status         ExecutionStatus `json:"status"`
	OrderID        string          `json:"order_id,omitempty"`
	Message        string          `json:"message,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// SignalRecord tracks a signal through the processor. It is the auxiliary history,
// not the queue entry itself.
type SignalRecord struct {
	Signal     Signal       `json:"signal"`
	Status     SignalStatus `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	Executions []Execution  `json:"executions"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
