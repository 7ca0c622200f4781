// Package job holds the contract shared by the API service and the worker
// service: operation and status enums, the queue payload and the realtime
// update message.
package job

import "time"

// Operation is one of the four fixed arithmetic operations
type Operation string

const (
	OperationAdd      Operation = "ADD"
	OperationSubtract Operation = "SUBTRACT"
	OperationMultiply Operation = "MULTIPLY"
	OperationDivide   Operation = "DIVIDE"
)

// Operations returns every operation in dispatch order
func Operations() []Operation {
	return []Operation{OperationAdd, OperationSubtract, OperationMultiply, OperationDivide}
}

// Valid reports whether op belongs to the closed set
func (op Operation) Valid() bool {
	switch op {
	case OperationAdd, OperationSubtract, OperationMultiply, OperationDivide:
		return true
	}
	return false
}

// Status is the lifecycle state of a single job
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is expected
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Group is one user submission
type Group struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	A         float64   `db:"a" json:"a"`
	B         float64   `db:"b" json:"b"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Job is one arithmetic unit of work belonging to a Group
type Job struct {
	ID            string    `db:"id" json:"id"`
	JobGroupID    string    `db:"job_group_id" json:"jobGroupId"`
	Type          Operation `db:"type" json:"type"`
	Status        Status    `db:"status" json:"status"`
	Result        *float64  `db:"result" json:"result,omitempty"`
	ResultInsight *string   `db:"result_insight" json:"resultInsight,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// Payload is the unit of work placed on the queue. It carries the operands so
// the processor can compute without reading the group back.
type Payload struct {
	JobGroupID string    `json:"jobGroupId"`
	JobID      string    `json:"jobId"`
	A          float64   `json:"a"`
	B          float64   `json:"b"`
	Operation  Operation `json:"operation"`
}

// Update is pushed to realtime subscribers on every state change
type Update struct {
	JobID         string    `json:"jobId"`
	Type          Operation `json:"type"`
	Status        Status    `json:"status"`
	Result        *float64  `json:"result,omitempty"`
	ResultInsight *string   `json:"resultInsight,omitempty"`
}

// UpdateFromJob mirrors the persisted state of j
func UpdateFromJob(j Job) Update {
	return Update{
		JobID:         j.ID,
		Type:          j.Type,
		Status:        j.Status,
		Result:        j.Result,
		ResultInsight: j.ResultInsight,
	}
}
