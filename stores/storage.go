package stores

import (
	"context"
	"os"

	"genui-canvas/core"
	"genui-canvas/stores/aws"
	"genui-canvas/stores/filesystem"
	"genui-canvas/stores/memory"
	"genui-canvas/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore selects the board store from STORAGE_TYPE. Unknown or empty
// values fall back to memory.
func GetStore(ctx context.Context) core.BoardStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var (
		store core.BoardStore
		err   error
	)

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data" // Default path
		}
		storageField["basePath"] = basePath
		store, err = filesystem.NewStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "genui-canvas.db" // Default filename
		}
		storageField["dataSourceName"] = dataSourceName
		store, err = sqlite.NewStore(dataSourceName)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		store, err = aws.NewStore(ctx, bucketName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	if err != nil {
		logrus.WithFields(storageField).WithError(err).Fatal("Failed to initialize storage")
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
