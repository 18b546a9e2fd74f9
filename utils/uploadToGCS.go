package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/disintegration/imaging"
	"google.golang.org/api/option"
)

// ObjectUploader stores data under objectName in the configured bucket.
type ObjectUploader func(ctx context.Context, objectName string, data []byte, contentType string) error

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC. Set GCS_CREDENTIALS_JSON to provide explicit credentials (e.g. locally).
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

func UploadBytesToGCS(ctx context.Context, objectName string, data []byte, contentType string) error {
	bucketName := os.Getenv("GCS_BUCKET")
	if bucketName == "" {
		return errors.New("GCS_BUCKET is required")
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to upload bytes to Google Cloud Storage: %v", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %v", err)
	}
	return nil
}

// PublicObjectURL builds the access url for an uploaded object.
func PublicObjectURL(objectName string) string {
	host := strings.TrimSpace(os.Getenv("GCS_URL"))
	if host == "" {
		host = "storage.googleapis.com"
	}
	return "https://" + host + "/" + os.Getenv("GCS_BUCKET") + "/" + objectName
}

// GenerateThumbnail decodes an image and re-encodes it as a 200px wide JPEG.
func GenerateThumbnail(originalData []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(originalData))
	if err != nil {
		return nil, err
	}

	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var thumbnailBuffer bytes.Buffer
	if err := imaging.Encode(&thumbnailBuffer, thumbnail, imaging.JPEG); err != nil {
		return nil, err
	}
	return thumbnailBuffer.Bytes(), nil
}
