package models

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
)

// PhotoUploader stores recovery photos. Tests replace it to keep uploads local.
var PhotoUploader utils.ObjectUploader = utils.UploadBytesToGCS

// AttachRecoveryPhoto stores a thumbnail of the returned cone and links it to the recovery.
func AttachRecoveryPhoto(ctx context.Context, id int, image []byte) (*Recovery, error) {
	if len(image) == 0 {
		return nil, utils.NewValidationError("photo is empty")
	}
	db := config.GetDB().WithContext(ctx)
	recovery, err := utils.FetchModel[Recovery](db, id)
	if err != nil {
		return nil, err
	}

	thumbnail, err := utils.GenerateThumbnail(image)
	if err != nil {
		return nil, utils.NewValidationError("photo is not a readable image", err.Error())
	}
	objectName := fmt.Sprintf("recoveries/%d/%s.jpg", recovery.ID, utils.GenerateUniqueFilename())
	if err := PhotoUploader(ctx, objectName, thumbnail, "image/jpeg"); err != nil {
		config.LogError(config.GetLogger(), "Recovery", "AttachRecoveryPhoto", "upload photo", recovery.ID, err)
		return nil, utils.SystemError("upload recovery photo", err)
	}

	url := utils.PublicObjectURL(objectName)
	if err := db.Model(&Recovery{}).Where("id = ?", recovery.ID).Update("photo_url", url).Error; err != nil {
		return nil, utils.SystemError("save recovery photo", err)
	}
	recovery.PhotoUrl = url
	return recovery, nil
}
