package repository

import "errors"

var (
	// ErrAssetNotFound is returned when an asset cannot be found.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrDuplicateAsset is returned when attempting to create an asset that already exists.
	ErrDuplicateAsset = errors.New("asset already exists")

	// ErrStorageUnavailable is returned when the cache index or blob store cannot be created or opened.
	ErrStorageUnavailable = errors.New("cache storage unavailable")

	// ErrIndexCorrupted marks persisted cache metadata that is unreadable or inconsistent.
	// It is recovered inside the cache layer and never reaches playback.
	ErrIndexCorrupted = errors.New("cache index corrupted")

	// ErrNetwork wraps every origin fetch failure.
	ErrNetwork = errors.New("origin fetch failed")

	// ErrRangeNotSatisfiable is returned when the requested offset lies past the end of the resource.
	ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")

	// ErrBlobNotFound is returned when a cached blob file is missing.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBucketNotFound is returned when the configured object storage bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")
)
