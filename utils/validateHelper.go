package utils

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// report json field names instead of Go field names
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// ValidateInput checks validate:"..." struct tags and reports the failing fields.
func ValidateInput(input any) error {
	err := getValidator().Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError(err.Error())
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	return NewValidationError("invalid input", fields...)
}

// check if id exists, return NotFound error
func ValidateResourceId[T any](db *gorm.DB, id int) error {
	count, err := ResourceCountWhere[T](db, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return NewNotFoundError(modelName[T](db), fmt.Sprint(id))
	}
	return nil
}

// check if ALL ids exist, reporting the missing ones
func ValidateResourcesId[T any](db *gorm.DB, ids []int) error {
	unqIds := UniqueSlice(ids)
	if len(unqIds) == 0 {
		return nil
	}
	var model T
	var found []int
	if err := db.Model(&model).Where("id IN ?", unqIds).Pluck("id", &found).Error; err != nil {
		return SystemError("validate ids", err)
	}
	if len(found) == len(unqIds) {
		return nil
	}
	missing := MissingIds(unqIds, found)
	return NewNotFoundError(modelName[T](db), IntIds(missing)...)
}

func ValidateUnique[T any](db *gorm.DB, column string, value interface{}, exceptId int) error {
	var count int64
	var err error
	if exceptId == 0 {
		count, err = ResourceCountWhere[T](db, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](db, column+" = ? AND NOT id = ?", value, exceptId)
	}
	if err != nil {
		return err
	}
	if count > 0 {
		return NewConflictError("duplicate "+column, fmt.Sprint(value))
	}
	return nil
}

// count records, using WHERE $condition
func ResourceCountWhere[T any](db *gorm.DB, condition string, value ...interface{}) (int64, error) {
	var model T
	var count int64
	if err := db.Model(&model).Where(condition, value...).Count(&count).Error; err != nil {
		return 0, SystemError("count "+modelName[T](db), err)
	}
	return count, nil
}

// MissingIds returns the ids in want that are absent from have, sorted.
func MissingIds(want []int, have []int) []int {
	seen := make(map[int]bool, len(have))
	for _, id := range have {
		seen[id] = true
	}
	var missing []int
	for _, id := range want {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sort.Ints(missing)
	return missing
}
