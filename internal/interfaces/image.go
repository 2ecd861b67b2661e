package interfaces

import (
	"strings"
)

// DefaultImageMimeType is assumed for raw base64 images that carry no MIME type.
const DefaultImageMimeType = "image/png"

// ParseImageRef splits a reference image into MIME type and base64 payload.
// ref is either a data URL ("data:image/jpeg;base64,....") or a bare base64 string.
func ParseImageRef(ref string) (mimeType, data string) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, "data:") {
		return DefaultImageMimeType, ref
	}
	header, payload, found := strings.Cut(ref, ",")
	if !found {
		return DefaultImageMimeType, ""
	}
	meta := strings.TrimPrefix(header, "data:")
	mimeType, _, _ = strings.Cut(meta, ";")
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = DefaultImageMimeType
	}
	return mimeType, strings.TrimSpace(payload)
}

// DataURL assembles a base64 data URL.
func DataURL(mimeType, data string) string {
	if strings.TrimSpace(mimeType) == "" {
		mimeType = DefaultImageMimeType
	}
	return "data:" + mimeType + ";base64," + data
}
