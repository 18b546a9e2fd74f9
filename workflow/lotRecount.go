package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type LotRecountResult struct {
	Recounted int   `json:"recounted"`
	Failed    []int `json:"failed"`
}

// RecountAllLots recomputes the counters of every lot, one transaction per lot. With
// continueOnError a failing lot is logged and skipped.
func RecountAllLots(ctx context.Context, logger *logrus.Logger, continueOnError bool) (*LotRecountResult, error) {
	if logger == nil {
		logger = config.GetLogger()
	}
	db := config.GetDB().WithContext(ctx)
	lotIds, err := models.ListLotIds(db)
	if err != nil {
		return nil, err
	}

	result := &LotRecountResult{}
	var errs []error
	for _, lotId := range lotIds {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			return models.RecomputeLotCounts(tx, lotId)
		})
		if err != nil {
			result.Failed = append(result.Failed, lotId)
			config.LogError(logger, "LotRecount", "RecountAllLots", "recompute lot", lotId, err)
			if !continueOnError {
				return result, fmt.Errorf("recount lot %d: %w", lotId, err)
			}
			errs = append(errs, err)
			continue
		}
		result.Recounted++
	}

	logger.WithFields(logrus.Fields{
		"lots":      len(lotIds),
		"recounted": result.Recounted,
		"failed":    len(result.Failed),
	}).Info("lot recount finished")
	return result, errors.Join(errs...)
}
