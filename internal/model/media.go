package model

import "errors"

const (
	MaxAvatarSizeBytes = 5 * 1024 * 1024
	AvatarSize         = 200 // square, pixels
	AvatarFolder       = "avatars"
	AvatarExt          = ".jpg"
	AvatarCacheControl = "public, max-age=31536000"
	AvatarFormField    = "avatar"
)

// Accepted avatar upload content types
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
	ContentTypeGIF  = "image/gif"
	ContentTypeWebP = "image/webp"
)

var allowedImageTypes = map[string]struct{}{
	ContentTypeJPEG: {},
	ContentTypePNG:  {},
	ContentTypeGIF:  {},
	ContentTypeWebP: {},
}

// Error codes for HTTP responses
const (
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeInvalidImageType     = "INVALID_IMAGE_TYPE"
	CodeStorageNotConfigured = "STORAGE_NOT_CONFIGURED"
)

var (
	ErrFileTooLarge         = errors.New("file too large")
	ErrInvalidImageType     = errors.New("invalid image type")
	ErrStorageNotConfigured = errors.New("avatar storage is not configured")
)

// UploadResult is where an avatar landed: URL is public, Key is the bucket
// object key kept for later deletes.
type UploadResult struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

func IsAllowedImageType(contentType string) bool {
	_, ok := allowedImageTypes[contentType]
	return ok
}
