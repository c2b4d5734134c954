package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAcceptedImage(t *testing.T) {
	tests := []struct {
		name      string
		fileName  string
		mediaType string
		want      bool
	}{
		{"png by type", "photo.png", "image/png", true},
		{"any image type", "scan.tiff", "image/tiff", true},
		{"type is case-insensitive", "photo", "IMAGE/JPEG", true},
		{"jpg by extension", "photo.jpg", "", true},
		{"jpeg by extension", "photo.jpeg", "application/octet-stream", true},
		{"upper-case extension", "PHOTO.WEBP", "", true},
		{"gif by extension", "anim.gif", "", true},
		{"text file", "notes.txt", "text/plain", false},
		{"pdf", "scan.pdf", "application/pdf", false},
		{"no extension no type", "README", "", false},
		{"extension only in the middle", "photo.png.zip", "application/zip", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAcceptedImage(tt.fileName, tt.mediaType))
		})
	}
}
