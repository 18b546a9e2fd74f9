package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/metrics"
	"bitbucket.org/mmdatafocus/thread_backend/notify"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Recovery is one weigh-back of a cone returned from the production floor.
type Recovery struct {
	ID                  int                 `gorm:"primary_key" json:"id"`
	ConeId              int                 `gorm:"index;not null" json:"cone_id"`
	ScanCode            string              `gorm:"size:100;index;not null" json:"scan_code"`
	ThreadTypeId        int                 `gorm:"index;not null" json:"thread_type_id"`
	OriginalMeters      decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"original_meters"`
	ReturnedWeightGrams decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"returned_weight_grams"`
	TareWeightGrams     decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"tare_weight_grams"`
	RemainingMeters     decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"remaining_meters"`
	ConsumedMeters      decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"consumed_meters"`
	IsAnomaly           bool                `gorm:"not null;default:false" json:"is_anomaly"`
	AnomalyReason       string              `gorm:"size:255" json:"anomaly_reason"`
	WriteOffSuggested   bool                `gorm:"not null;default:false" json:"write_off_suggested"`
	Status              RecoveryStatus      `gorm:"size:32;index;not null" json:"status"`
	ReturnedBy          string              `gorm:"size:100" json:"returned_by"`
	WeighedBy           string              `gorm:"size:100" json:"weighed_by"`
	WeighedAt           *time.Time          `json:"weighed_at"`
	ConfirmedBy         string              `gorm:"size:100" json:"confirmed_by"`
	ConfirmedAt         *time.Time          `json:"confirmed_at"`
	WriteOffApprovedBy  string              `gorm:"size:100" json:"write_off_approved_by"`
	WriteOffReason      string              `gorm:"type:text" json:"write_off_reason"`
	RejectionReason     string              `gorm:"type:text" json:"rejection_reason"`
	Notes               string              `gorm:"type:text" json:"notes"`
	PhotoUrl            string              `gorm:"size:512" json:"photo_url"`
	CreatedAt           time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRecovery struct {
	ScanCode   string `json:"scan_code" validate:"required"`
	ReturnedBy string `json:"returned_by"`
	Notes      string `json:"notes"`
}

type WeighInput struct {
	GrossWeightGrams decimal.Decimal  `json:"gross_weight_grams"`
	TareWeightGrams  *decimal.Decimal `json:"tare_weight_grams"`
	WeighedBy        string           `json:"weighed_by"`
}

type RecoveryFilter struct {
	Status       *RecoveryStatus `json:"status"`
	ConeId       *int            `json:"cone_id"`
	ThreadTypeId *int            `json:"thread_type_id"`
}

// RemainingLength is the outcome of converting a returned weight into thread length.
type RemainingLength struct {
	RemainingMeters decimal.Decimal `json:"remaining_meters"`
	ConsumedMeters  decimal.Decimal `json:"consumed_meters"`
	IsAnomaly       bool            `json:"is_anomaly"`
	AnomalyReason   string          `json:"anomaly_reason"`
}

var recoveryTransitions = map[RecoveryStatus][]RecoveryStatus{
	RecoveryStatusInitiated:    {RecoveryStatusPendingWeigh, RecoveryStatusWeighed, RecoveryStatusWrittenOff, RecoveryStatusRejected},
	RecoveryStatusPendingWeigh: {RecoveryStatusWeighed, RecoveryStatusWrittenOff, RecoveryStatusRejected},
	RecoveryStatusWeighed:      {RecoveryStatusWeighed, RecoveryStatusConfirmed, RecoveryStatusWrittenOff},
}

var openRecoveryStatuses = []RecoveryStatus{RecoveryStatusInitiated, RecoveryStatusPendingWeigh, RecoveryStatusWeighed}

// RecoveringConeIds returns the cones among coneIds that have a recovery in progress.
func RecoveringConeIds(tx *gorm.DB, coneIds []int) ([]int, error) {
	var ids []int
	err := tx.Model(&Recovery{}).
		Where("cone_id IN ? AND status IN ?", coneIds, openRecoveryStatuses).
		Order("cone_id").
		Pluck("cone_id", &ids).Error
	if err != nil {
		return nil, utils.SystemError("check open recoveries", err)
	}
	return utils.UniqueSlice(ids), nil
}

func (r *Recovery) checkTransition(to RecoveryStatus) error {
	if containsStatus(recoveryTransitions[r.Status], to) {
		return nil
	}
	return utils.NewConflictError(fmt.Sprintf("recovery cannot move from %s to %s", r.Status, to), fmt.Sprint(r.ID))
}

// CalculateRemainingMeters converts a gross return weight into remaining length. The result is
// clamped to [0, original] and anything that had to be clamped is reported as an anomaly.
func CalculateRemainingMeters(gross, tare, density, original decimal.Decimal) (RemainingLength, error) {
	if !density.IsPositive() {
		return RemainingLength{}, utils.NewValidationError("density must be positive")
	}
	if gross.IsNegative() || tare.IsNegative() {
		return RemainingLength{}, utils.NewValidationError("weights cannot be negative")
	}

	raw := gross.Sub(tare).Div(density).Round(4)
	remaining, clamped := utils.ClampDecimal(raw, decimal.Zero, original)
	result := RemainingLength{
		RemainingMeters: remaining,
		ConsumedMeters:  original.Sub(remaining),
		IsAnomaly:       clamped,
	}
	if clamped {
		if raw.IsNegative() {
			result.AnomalyReason = fmt.Sprintf("gross weight %s g is below tare %s g", gross.String(), tare.String())
		} else {
			result.AnomalyReason = fmt.Sprintf("computed %s m exceeds original %s m", raw.String(), original.String())
		}
	}
	return result, nil
}

// InitiateRecovery opens a return for the cone with scanCode. A cone has at most one open recovery.
func InitiateRecovery(ctx context.Context, input *NewRecovery) (*Recovery, error) {
	input.ScanCode = strings.TrimSpace(input.ScanCode)
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}

	var recovery Recovery
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cone, err := findConeByScanCode(tx, input.ScanCode)
		if err != nil {
			return err
		}
		if cone.Status != ConeStatusInProduction {
			return utils.NewConflictError(fmt.Sprintf("cone is %s, only cones in production can be returned", cone.Status), cone.ScanCode)
		}
		open, err := RecoveringConeIds(tx, []int{cone.ID})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return utils.NewConflictError("cone already has an open recovery", cone.ScanCode)
		}

		if _, err := SetConeStatus(tx, []int{cone.ID}, ConeStatusPartialReturn); err != nil {
			return err
		}
		recovery = Recovery{
			ConeId:         cone.ID,
			ScanCode:       cone.ScanCode,
			ThreadTypeId:   cone.ThreadTypeId,
			OriginalMeters: cone.QuantityMeters,
			Status:         RecoveryStatusInitiated,
			ReturnedBy:     utils.ResolveActor(ctx, input.ReturnedBy),
			Notes:          input.Notes,
		}
		if err := tx.Create(&recovery).Error; err != nil {
			return utils.SystemError("create recovery", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecoveryOutcomesTotal.WithLabelValues("initiated").Inc()
	return &recovery, nil
}

// QueueRecoveryForWeighing moves a freshly returned cone to the weigh station queue.
func QueueRecoveryForWeighing(ctx context.Context, id int) (*Recovery, error) {
	return changeRecovery(ctx, id, RecoveryStatusPendingWeigh, func(tx *gorm.DB, recovery *Recovery) (map[string]interface{}, error) {
		if _, err := SetConeStatus(tx, []int{recovery.ConeId}, ConeStatusPendingWeigh); err != nil {
			return nil, err
		}
		return map[string]interface{}{}, nil
	})
}

// WeighRecovery records the returned weight and the length it converts to. Weighing again
// before confirmation replaces the previous reading.
func WeighRecovery(ctx context.Context, id int, input *WeighInput) (*Recovery, error) {
	ctx, span := tracer.Start(ctx, "recovery.weigh", trace.WithAttributes(attribute.Int("recovery.id", id)))
	defer span.End()

	if input.GrossWeightGrams.IsNegative() {
		return nil, utils.NewValidationError("gross weight cannot be negative")
	}
	actor := utils.ResolveActor(ctx, input.WeighedBy)

	var calculated RemainingLength
	recovery, err := changeRecovery(ctx, id, RecoveryStatusWeighed, func(tx *gorm.DB, recovery *Recovery) (map[string]interface{}, error) {
		threadType, err := utils.FetchModel[ThreadType](tx, recovery.ThreadTypeId)
		if err != nil {
			return nil, err
		}
		tare := threadType.TareWeightGrams
		if input.TareWeightGrams != nil {
			tare = *input.TareWeightGrams
		}
		calculated, err = CalculateRemainingMeters(input.GrossWeightGrams, tare, threadType.DensityGramsPerMeter, recovery.OriginalMeters)
		if err != nil {
			return nil, err
		}

		if recovery.Status == RecoveryStatusInitiated {
			if _, err := SetConeStatus(tx, []int{recovery.ConeId}, ConeStatusPendingWeigh); err != nil {
				return nil, err
			}
		}

		net := input.GrossWeightGrams.Sub(tare)
		now := time.Now().UTC()
		return map[string]interface{}{
			"returned_weight_grams": input.GrossWeightGrams,
			"tare_weight_grams":     tare,
			"remaining_meters":      calculated.RemainingMeters,
			"consumed_meters":       calculated.ConsumedMeters,
			"is_anomaly":            calculated.IsAnomaly,
			"anomaly_reason":        calculated.AnomalyReason,
			"write_off_suggested":   net.LessThan(config.MinRecoveryWeightGrams()),
			"weighed_by":            actor,
			"weighed_at":            now,
		}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	metrics.RecoveryOutcomesTotal.WithLabelValues("weighed").Inc()
	if calculated.IsAnomaly {
		metrics.RecoveryOutcomesTotal.WithLabelValues("anomaly").Inc()
		config.LogWarning(config.GetLogger(), "Recovery", "WeighRecovery", calculated.AnomalyReason, recovery)
		notify.Dispatch(ctx, notify.Event{
			Type:  notify.TypeRecovery,
			Title: fmt.Sprintf("Weighing anomaly on cone %s", recovery.ScanCode),
			Body:  calculated.AnomalyReason,
			Metadata: map[string]any{
				"recovery_id": recovery.ID,
				"cone_id":     recovery.ConeId,
			},
		})
	}
	return recovery, nil
}

// ConfirmRecovery puts the weighed cone back on the shelf as a partial cone.
func ConfirmRecovery(ctx context.Context, id int, confirmedBy string) (*Recovery, error) {
	actor := utils.ResolveActor(ctx, confirmedBy)
	recovery, err := changeRecovery(ctx, id, RecoveryStatusConfirmed, func(tx *gorm.DB, recovery *Recovery) (map[string]interface{}, error) {
		if !recovery.RemainingMeters.Valid || !recovery.RemainingMeters.Decimal.IsPositive() {
			return nil, utils.NewValidationError("nothing left on the cone, write it off instead", recovery.ScanCode)
		}
		cones, err := SetConeStatus(tx, []int{recovery.ConeId}, ConeStatusAvailable)
		if err != nil {
			return nil, err
		}
		err = tx.Model(&Cone{}).Where("id = ?", recovery.ConeId).Updates(map[string]interface{}{
			"quantity_meters": recovery.RemainingMeters.Decimal,
			"weight_grams":    recovery.ReturnedWeightGrams,
			"is_partial":      true,
		}).Error
		if err != nil {
			return nil, utils.SystemError("update cone length", err)
		}
		if err := RecomputeLotCounts(tx, lotIdsOf(cones)...); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"confirmed_by": actor,
			"confirmed_at": time.Now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecoveryOutcomesTotal.WithLabelValues("confirmed").Inc()
	notifyRecovery(ctx, recovery)
	return recovery, nil
}

// WriteOffRecovery retires the cone. The approver must be someone other than whoever weighed it.
func WriteOffRecovery(ctx context.Context, id int, reason string, approvedBy string) (*Recovery, error) {
	reason = strings.TrimSpace(reason)
	approvedBy = strings.TrimSpace(approvedBy)
	if reason == "" {
		return nil, utils.NewValidationError("write-off reason is required")
	}
	if approvedBy == "" {
		return nil, utils.NewValidationError("write-off approver is required")
	}

	recovery, err := changeRecovery(ctx, id, RecoveryStatusWrittenOff, func(tx *gorm.DB, recovery *Recovery) (map[string]interface{}, error) {
		if recovery.WeighedBy != "" && strings.EqualFold(recovery.WeighedBy, approvedBy) {
			return nil, utils.NewValidationError("write-off must be approved by someone other than the weigher", approvedBy)
		}
		cones, err := SetConeStatus(tx, []int{recovery.ConeId}, ConeStatusWrittenOff)
		if err != nil {
			return nil, err
		}
		if err := RecomputeLotCounts(tx, lotIdsOf(cones)...); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"write_off_approved_by": approvedBy,
			"write_off_reason":      reason,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecoveryOutcomesTotal.WithLabelValues("written_off").Inc()
	notifyRecovery(ctx, recovery)
	return recovery, nil
}

// RejectRecovery cancels a return before weighing; the cone stays in production.
func RejectRecovery(ctx context.Context, id int, reason string) (*Recovery, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, utils.NewValidationError("rejection reason is required")
	}
	recovery, err := changeRecovery(ctx, id, RecoveryStatusRejected, func(tx *gorm.DB, recovery *Recovery) (map[string]interface{}, error) {
		if _, err := SetConeStatus(tx, []int{recovery.ConeId}, ConeStatusInProduction); err != nil {
			return nil, err
		}
		return map[string]interface{}{"rejection_reason": reason}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecoveryOutcomesTotal.WithLabelValues("rejected").Inc()
	return recovery, nil
}

// changeRecovery locks the recovery, checks the transition and lets apply do the cone side
// before storing apply's column updates together with the new status.
func changeRecovery(ctx context.Context, id int, to RecoveryStatus,
	apply func(tx *gorm.DB, recovery *Recovery) (map[string]interface{}, error)) (*Recovery, error) {
	var recovery *Recovery
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		recovery, err = utils.FetchModelForUpdate[Recovery](tx, id)
		if err != nil {
			return err
		}
		if err := recovery.checkTransition(to); err != nil {
			return err
		}
		updates, err := apply(tx, recovery)
		if err != nil {
			return err
		}
		updates["status"] = to
		if err := tx.Model(&Recovery{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return utils.SystemError("update recovery", err)
		}
		recovery, err = utils.FetchModel[Recovery](tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return recovery, nil
}

func GetRecovery(ctx context.Context, id int) (*Recovery, error) {
	return utils.FetchModel[Recovery](config.GetDB().WithContext(ctx), id)
}

func ListRecoveries(ctx context.Context, filter *RecoveryFilter) ([]*Recovery, error) {
	dbCtx := config.GetDB().WithContext(ctx)
	if filter != nil {
		if filter.Status != nil {
			dbCtx = dbCtx.Where("status = ?", *filter.Status)
		}
		if filter.ConeId != nil {
			dbCtx = dbCtx.Where("cone_id = ?", *filter.ConeId)
		}
		if filter.ThreadTypeId != nil {
			dbCtx = dbCtx.Where("thread_type_id = ?", *filter.ThreadTypeId)
		}
	}
	var results []*Recovery
	if err := dbCtx.Order("id DESC").Find(&results).Error; err != nil {
		return nil, utils.SystemError("list recoveries", err)
	}
	return results, nil
}

func notifyRecovery(ctx context.Context, recovery *Recovery) {
	notify.Dispatch(ctx, notify.Event{
		Type:  notify.TypeRecovery,
		Title: fmt.Sprintf("Recovery of cone %s %s", recovery.ScanCode, recovery.Status),
		Body: fmt.Sprintf("remaining %s m of %s m", recovery.RemainingMeters.Decimal.String(),
			recovery.OriginalMeters.String()),
		Metadata: map[string]any{
			"recovery_id": recovery.ID,
			"cone_id":     recovery.ConeId,
			"status":      recovery.Status,
		},
	})
}
