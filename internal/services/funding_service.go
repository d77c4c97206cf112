package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"points-service/internal/models"
	"points-service/pkg/common"

	"github.com/gosimple/slug"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FundingService holds task escrow. It never talks to an external system, so plain
// transactions are enough: every operation is one tx with the funding row locked.
type FundingService struct {
	DB     *gorm.DB
	Ledger *LedgerService
	Audit  *AuditService
}

func NewFundingService(db *gorm.DB, ledger *LedgerService, audit *AuditService) *FundingService {
	return &FundingService{DB: db, Ledger: ledger, Audit: audit}
}

type FundTaskDTO struct {
	CreatorID           uint   `json:"-"`
	Title               string `json:"title" binding:"required"`
	Description         string `json:"description"`
	PointsPerCompletion int64  `json:"points_per_completion" binding:"required"`
	MaxCompletions      int    `json:"max_completions" binding:"required"`
	FundingPoints       int64  `json:"funding_points"`
}

type CompleteTaskDTO struct {
	TaskID      uint   `json:"-"`
	VolunteerID uint   `json:"volunteer_id" binding:"required"`
	VerifierID  uint   `json:"-"`
	Approved    bool   `json:"approved"`
	Note        string `json:"note"`
}

type CancelTaskDTO struct {
	TaskID      uint
	CancellerID uint
}

type FundingResult struct {
	Task    models.UserTask    `json:"task"`
	Funding models.TaskFunding `json:"funding"`
}

type CompletionResult struct {
	Completion models.TaskCompletion `json:"completion"`
	Funding    models.TaskFunding    `json:"funding"`
}

func (s *FundingService) validateFunding(data *FundTaskDTO) error {
	data.Title = strings.TrimSpace(data.Title)
	if data.Title == "" {
		return newValidationError("title", "is required")
	}
	if data.PointsPerCompletion <= 0 {
		return newValidationError("points_per_completion", "must be positive")
	}
	if data.MaxCompletions <= 0 {
		return newValidationError("max_completions", "must be positive")
	}
	if data.PointsPerCompletion > math.MaxInt64/int64(data.MaxCompletions) {
		return newValidationError("points_per_completion", "is too large for %d completions", data.MaxCompletions)
	}
	required := data.PointsPerCompletion * int64(data.MaxCompletions)
	if data.FundingPoints == 0 {
		data.FundingPoints = required
	}
	if data.FundingPoints < required {
		return newValidationError("funding_points", "must cover %d completions of %d points (%d)",
			data.MaxCompletions, data.PointsPerCompletion, required)
	}
	return nil
}

// CreateAndFund creates the task and moves the funding out of the creator's balance into escrow.
func (s *FundingService) CreateAndFund(ctx context.Context, data FundTaskDTO) (*FundingResult, error) {
	if err := s.validateFunding(&data); err != nil {
		return nil, err
	}

	var result FundingResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		funder, err := s.Ledger.LockMember(tx, data.CreatorID)
		if err != nil {
			return err
		}
		if !funder.IsActive() {
			return ErrMemberInactive
		}

		available, err := s.Ledger.AvailableBalance(tx, data.CreatorID)
		if err != nil {
			return err
		}
		if available < data.FundingPoints {
			return ErrInsufficientBalance
		}

		result.Task = models.UserTask{
			CreatorID:           data.CreatorID,
			Title:               data.Title,
			Slug:                slug.Make(data.Title) + "-" + strings.ToLower(common.GenerateReference("T")[2:10]),
			Description:         data.Description,
			PointsPerCompletion: data.PointsPerCompletion,
			MaxCompletions:      data.MaxCompletions,
			Status:              models.TaskStatusOpen,
		}
		if err := tx.Create(&result.Task).Error; err != nil {
			return err
		}

		result.Funding = models.TaskFunding{
			TaskID:              result.Task.ID,
			FunderID:            data.CreatorID,
			TotalPointsLocked:   data.FundingPoints,
			PointsPerCompletion: data.PointsPerCompletion,
			MaxCompletions:      data.MaxCompletions,
			Status:              models.FundingStatusLocked,
		}
		if err := tx.Create(&result.Funding).Error; err != nil {
			return err
		}

		if _, err := s.Ledger.DeductPoints(tx, PointMovementDTO{
			MemberID:        data.CreatorID,
			Amount:          data.FundingPoints,
			TransactionType: models.TxTypeTaskFund,
			Source:          models.SourceTask,
			ReferenceType:   models.RefTypeUserTask,
			ReferenceID:     fmt.Sprint(result.Task.ID),
			Description:     "Funding for task: " + data.Title,
		}); err != nil {
			return err
		}

		return s.Audit.Record(tx, AuditEntry{
			ActorID:    data.CreatorID,
			ActorType:  models.ActorMember,
			EntityType: EntityTaskFunding,
			EntityID:   result.Funding.ID,
			Action:     "funded",
			ToStatus:   models.FundingStatusLocked,
			Metadata:   map[string]interface{}{"task_id": result.Task.ID, "points": data.FundingPoints},
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"task_id": result.Task.ID, "funder": data.CreatorID, "points": data.FundingPoints}).Info("task funded")
	return &result, nil
}

func (s *FundingService) lockFunding(tx *gorm.DB, taskID uint) (*models.TaskFunding, error) {
	var funding models.TaskFunding
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("task_id = ?", taskID).First(&funding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &funding, nil
}

// CompleteAndPayout records a verifier decision and, when approved, pays the volunteer out of escrow.
// When the last completion is paid any over-funding goes back to the funder.
func (s *FundingService) CompleteAndPayout(ctx context.Context, data CompleteTaskDTO) (*CompletionResult, error) {
	var result CompletionResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		funding, err := s.lockFunding(tx, data.TaskID)
		if err != nil {
			return err
		}
		if data.VerifierID != funding.FunderID {
			return ErrForbidden
		}
		if data.VolunteerID == funding.FunderID {
			return newValidationError("volunteer_id", "task creator cannot complete their own task")
		}

		result.Completion = models.TaskCompletion{
			TaskID:      data.TaskID,
			VolunteerID: data.VolunteerID,
			VerifierID:  data.VerifierID,
			Approved:    data.Approved,
			Note:        data.Note,
		}

		if !data.Approved {
			result.Funding = *funding
			if err := tx.Create(&result.Completion).Error; err != nil {
				return err
			}
			return s.Audit.Record(tx, AuditEntry{
				ActorID:    data.VerifierID,
				ActorType:  models.ActorMember,
				EntityType: EntityTaskFunding,
				EntityID:   funding.ID,
				Action:     "completion_rejected",
				FromStatus: funding.Status,
				ToStatus:   funding.Status,
				Metadata:   map[string]interface{}{"volunteer_id": data.VolunteerID},
			})
		}

		if funding.Status != models.FundingStatusLocked && funding.Status != models.FundingStatusDistributing {
			return ErrInvalidState
		}
		if funding.CompletionsCount >= funding.MaxCompletions {
			return ErrInvalidState
		}
		if funding.PointsDistributed+funding.PointsPerCompletion > funding.TotalPointsLocked {
			return ErrInvalidState
		}

		volunteer, err := s.Ledger.LockMember(tx, data.VolunteerID)
		if err != nil {
			return err
		}
		if !volunteer.IsActive() {
			return ErrMemberInactive
		}

		var already int64
		if err := tx.Model(&models.TaskCompletion{}).
			Where("task_id = ? AND volunteer_id = ? AND approved = ?", data.TaskID, data.VolunteerID, true).
			Count(&already).Error; err != nil {
			return err
		}
		if already > 0 {
			return newValidationError("volunteer_id", "volunteer was already paid for this task")
		}

		taskRef := fmt.Sprint(data.TaskID)
		if _, err := s.Ledger.AddPoints(tx, PointMovementDTO{
			MemberID:        data.VolunteerID,
			Amount:          funding.PointsPerCompletion,
			TransactionType: models.TxTypeTaskPayout,
			Source:          models.SourceTask,
			ReferenceType:   models.RefTypeUserTask,
			ReferenceID:     taskRef,
			Description:     "Task completion payout",
		}); err != nil {
			return err
		}

		from := funding.Status
		funding.CompletionsCount++
		funding.PointsDistributed += funding.PointsPerCompletion
		funding.Status = models.FundingStatusDistributing

		if funding.CompletionsCount == funding.MaxCompletions {
			funding.Status = models.FundingStatusCompleted
			if surplus := funding.Remaining(); surplus > 0 {
				if _, err := s.Ledger.AddPoints(tx, PointMovementDTO{
					MemberID:        funding.FunderID,
					Amount:          surplus,
					TransactionType: models.TxTypeTaskRefund,
					Source:          models.SourceTask,
					ReferenceType:   models.RefTypeUserTask,
					ReferenceID:     taskRef,
					Description:     "Unused task funding returned",
				}); err != nil {
					return err
				}
				funding.PointsRefunded += surplus
			}
			if err := tx.Model(&models.UserTask{}).Where("id = ?", data.TaskID).
				Update("status", models.TaskStatusCompleted).Error; err != nil {
				return err
			}
		}

		if err := tx.Save(funding).Error; err != nil {
			return err
		}

		result.Completion.PointsAwarded = funding.PointsPerCompletion
		if err := tx.Create(&result.Completion).Error; err != nil {
			return err
		}
		result.Funding = *funding

		return s.Audit.Record(tx, AuditEntry{
			ActorID:    data.VerifierID,
			ActorType:  models.ActorMember,
			EntityType: EntityTaskFunding,
			EntityID:   funding.ID,
			Action:     "payout",
			FromStatus: from,
			ToStatus:   funding.Status,
			Metadata: map[string]interface{}{
				"volunteer_id":       data.VolunteerID,
				"points":             funding.PointsPerCompletion,
				"completions_count":  funding.CompletionsCount,
				"points_distributed": funding.PointsDistributed,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelAndRefund returns whatever is left in escrow to the funder.
func (s *FundingService) CancelAndRefund(ctx context.Context, data CancelTaskDTO) (*models.TaskFunding, error) {
	var funding *models.TaskFunding
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		funding, err = s.lockFunding(tx, data.TaskID)
		if err != nil {
			return err
		}
		if data.CancellerID != funding.FunderID {
			return ErrForbidden
		}
		if funding.IsTerminal() {
			return ErrInvalidState
		}

		from := funding.Status
		refund := funding.Remaining()
		if refund > 0 {
			if _, err := s.Ledger.AddPoints(tx, PointMovementDTO{
				MemberID:        funding.FunderID,
				Amount:          refund,
				TransactionType: models.TxTypeTaskRefund,
				Source:          models.SourceTask,
				ReferenceType:   models.RefTypeUserTask,
				ReferenceID:     fmt.Sprint(data.TaskID),
				Description:     "Task cancelled, escrow refunded",
			}); err != nil {
				return err
			}
		}
		funding.PointsRefunded += refund
		funding.Status = models.FundingStatusRefunded

		if err := tx.Save(funding).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.UserTask{}).Where("id = ?", data.TaskID).
			Update("status", models.TaskStatusCancelled).Error; err != nil {
			return err
		}

		return s.Audit.Record(tx, AuditEntry{
			ActorID:    data.CancellerID,
			ActorType:  models.ActorMember,
			EntityType: EntityTaskFunding,
			EntityID:   funding.ID,
			Action:     "refunded",
			FromStatus: from,
			ToStatus:   models.FundingStatusRefunded,
			Metadata:   map[string]interface{}{"refund": refund},
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"task_id": data.TaskID, "refunded": funding.PointsRefunded}).Info("task funding refunded")
	return funding, nil
}

func (s *FundingService) GetFunding(ctx context.Context, taskID uint) (*models.TaskFunding, error) {
	var funding models.TaskFunding
	err := s.DB.WithContext(ctx).Where("task_id = ?", taskID).First(&funding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &funding, nil
}
