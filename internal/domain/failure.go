package domain

import (
	"time"
)

// OrchestrationFailure is one dropped signaling event, kept for operators.
type OrchestrationFailure struct {
	ID             string    `json:"id" gorm:"column:id;primaryKey"`
	EventType      string    `json:"event_type" gorm:"column:event_type;index"`
	LegID          string    `json:"leg_id" gorm:"column:leg_id;index"`
	ConversationID string    `json:"conversation_id" gorm:"column:conversation_id"`
	Step           string    `json:"step" gorm:"column:step"`
	UpstreamStatus int       `json:"upstream_status" gorm:"column:upstream_status"`
	Message        string    `json:"message" gorm:"column:message"`
	Compensated    bool      `json:"compensated" gorm:"column:compensated"`
	InstanceID     string    `json:"instance_id" gorm:"column:instance_id"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at"`
}

func (OrchestrationFailure) TableName() string {
	return "orchestration_failures"
}
