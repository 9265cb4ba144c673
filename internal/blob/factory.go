package blob

import (
	"context"
	"fmt"
	"os"
)

// Open selects a blob backend from the environment. Defaults to memory.
//
//	STUDYCORE_BLOB_DRIVER: memory|fs|s3 (default memory)
//	STUDYCORE_BLOB_FS_ROOT: root directory when driver=fs (default ./blobdata)
//	STUDYCORE_BLOB_S3_*: see OpenS3FromEnv
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("STUDYCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverMemory)
	}
	return OpenDriver(ctx, Driver(driver))
}

// OpenDriver opens the named backend.
func OpenDriver(ctx context.Context, driver Driver) (Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverFilesystem:
		root := os.Getenv("STUDYCORE_BLOB_FS_ROOT")
		if root == "" {
			root = "./blobdata"
		}
		return NewFilesystemStore(root)
	case DriverS3:
		return OpenS3FromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
