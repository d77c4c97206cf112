package models

import (
	"time"
)

const (
	TaskStatusOpen      = "open"
	TaskStatusCompleted = "completed"
	TaskStatusCancelled = "cancelled"

	FundingStatusLocked       = "locked"
	FundingStatusDistributing = "distributing"
	FundingStatusCompleted    = "completed"
	FundingStatusRefunded     = "refunded"
)

// UserTask is a task created and funded by a member for other members to complete.
type UserTask struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatorID           uint      `gorm:"column:creator_id;not null;index" json:"creator_id"`
	Title               string    `gorm:"column:title;size:255;not null" json:"title"`
	Slug                string    `gorm:"column:slug;size:255;uniqueIndex" json:"slug"`
	Description         string    `gorm:"column:description;type:text" json:"description"`
	PointsPerCompletion int64     `gorm:"column:points_per_completion;not null" json:"points_per_completion"`
	MaxCompletions      int       `gorm:"column:max_completions;not null" json:"max_completions"`
	Status              string    `gorm:"column:status;size:20;not null;default:open" json:"status"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (UserTask) TableName() string {
	return "user_tasks"
}

// TaskFunding is the escrow backing a UserTask.
type TaskFunding struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID              uint      `gorm:"column:task_id;not null;uniqueIndex" json:"task_id"`
	FunderID            uint      `gorm:"column:funder_id;not null;index" json:"funder_id"`
	TotalPointsLocked   int64     `gorm:"column:total_points_locked;not null" json:"total_points_locked"`
	PointsPerCompletion int64     `gorm:"column:points_per_completion;not null" json:"points_per_completion"`
	MaxCompletions      int       `gorm:"column:max_completions;not null" json:"max_completions"`
	CompletionsCount    int       `gorm:"column:completions_count;not null;default:0" json:"completions_count"`
	PointsDistributed   int64     `gorm:"column:points_distributed;not null;default:0" json:"points_distributed"`
	PointsRefunded      int64     `gorm:"column:points_refunded;not null;default:0" json:"points_refunded"`
	Status              string    `gorm:"column:status;size:20;not null;default:locked;index" json:"status"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (TaskFunding) TableName() string {
	return "task_fundings"
}

func (f TaskFunding) IsTerminal() bool {
	return f.Status == FundingStatusCompleted || f.Status == FundingStatusRefunded
}

// Remaining is what is still held in escrow.
func (f TaskFunding) Remaining() int64 {
	return f.TotalPointsLocked - f.PointsDistributed - f.PointsRefunded
}

type TaskCompletion struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID        uint      `gorm:"column:task_id;not null;index:idx_completion_task_volunteer,priority:1" json:"task_id"`
	VolunteerID   uint      `gorm:"column:volunteer_id;not null;index:idx_completion_task_volunteer,priority:2" json:"volunteer_id"`
	VerifierID    uint      `gorm:"column:verifier_id;not null" json:"verifier_id"`
	Approved      bool      `gorm:"column:approved;not null" json:"approved"`
	PointsAwarded int64     `gorm:"column:points_awarded;not null;default:0" json:"points_awarded"`
	Note          string    `gorm:"column:note;size:500" json:"note"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (TaskCompletion) TableName() string {
	return "task_completions"
}
