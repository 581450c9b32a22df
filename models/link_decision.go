package models

import (
	"time"
)

// LinkDecision protokolliert jede schreibende Konsolidierungsentscheidung.
type LinkDecision struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Project      string `json:"project" gorm:"index;size:64"`
	AnnotationID string `json:"annotation_id" gorm:"index;size:512"`
	// create, exact-match, same-set-reordered, partial-overlap, update, delete, cleanup-*
	Decision    string `json:"decision" gorm:"index;size:32"`
	TargetCount int    `json:"target_count"`
	BodyCount   int    `json:"body_count"`
	CreatorID   string `json:"creator_id,omitempty" gorm:"size:512"`

	// Targets als JSON-Liste
	Targets []byte `json:"targets" gorm:"type:jsonb"`
}

func (LinkDecision) TableName() string { return "link_decisions" }
