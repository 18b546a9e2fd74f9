package utils

import (
	"errors"
	"reflect"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* DB fetching */

// fetch model from db, inside whatever transaction db belongs to
// (may return RecordNotFound)
func FetchModel[T any](db *gorm.DB, id int, associations ...string) (*T, error) {
	dbCtx := db
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFoundError(modelName[T](db), strconv.Itoa(id))
	}
	if err != nil {
		return nil, SystemError("fetch "+modelName[T](db), err)
	}
	return &result, nil
}

// same as FetchModel, holding a row lock until the transaction ends
func FetchModelForUpdate[T any](tx *gorm.DB, id int, associations ...string) (*T, error) {
	return FetchModel[T](tx.Clauses(clause.Locking{Strength: "UPDATE"}), id, associations...)
}

func modelName[T any](_ *gorm.DB) string {
	var model T
	if name := reflect.TypeOf(model).Name(); name != "" {
		return name
	}
	return "record"
}
