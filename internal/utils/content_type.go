package utils

import (
	"fmt"
	"mime"
	"strings"
)

var fallbackExtensions = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"application/pdf": "pdf",
	"text/plain":      "txt",
	"text/calendar":   "ics",
	"text/csv":        "csv",
}

// AttachmentFileName returns the part's own file name, or a generated one derived from
// the content type when the sender did not supply any.
func AttachmentFileName(fileName, contentType string, index int) string {
	fileName = strings.TrimSpace(fileName)
	if fileName != "" {
		return fileName
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	ext, ok := fallbackExtensions[mediaType]
	if !ok {
		if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
			ext = strings.TrimPrefix(exts[0], ".")
		} else {
			ext = "bin"
		}
	}
	return fmt.Sprintf("attachment-%d.%s", index+1, ext)
}
