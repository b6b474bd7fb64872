package archive

import (
	"fmt"
	"strings"
)

const cidPrefixLen = 8

var timestampReplacer = strings.NewReplacer(":", "-", ".", "-")

// Extension maps a declared MIME type to a file extension
func Extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "bin"
	}
}

// Filename builds <handle>_<createdAt>_<cid prefix>_<index>.<ext>. Colons and
// periods in the timestamp become dashes. The result depends only on its inputs.
func Filename(handle, createdAt, postCID string, index int, mimeType string) string {
	prefix := postCID
	if len(prefix) > cidPrefixLen {
		prefix = prefix[:cidPrefixLen]
	}
	return fmt.Sprintf("%s_%s_%s_%d.%s",
		handle,
		timestampReplacer.Replace(createdAt),
		prefix,
		index,
		Extension(mimeType),
	)
}
