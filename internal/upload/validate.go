package upload

import (
	"path/filepath"
	"slices"
	"strings"
)

// AcceptedExtensions is the filename fallback used when the declared media
// type is missing or not an image type. Some drop sources leave it empty.
var AcceptedExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// RejectionMessage is reported when a candidate is not an accepted image.
const RejectionMessage = "Please select a valid image file (JPG, PNG, WebP, GIF)."

const imageTypePrefix = "image/"

// IsAcceptedImage reports whether a candidate passes validation: an image/*
// declared type, or an accepted extension (case-insensitive).
func IsAcceptedImage(name, mediaType string) bool {
	if strings.HasPrefix(strings.ToLower(mediaType), imageTypePrefix) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext != "" && slices.Contains(AcceptedExtensions, ext)
}
