package dv

import (
	"strings"

	"github.com/dustin/go-humanize"
)

// FileType is the semantic classification shown next to a file.
type FileType string

const (
	TypeImage    FileType = "image"
	TypeVideo    FileType = "video"
	TypeAudio    FileType = "audio"
	TypeArchive  FileType = "archive"
	TypeDocument FileType = "document"
	TypeFile     FileType = "file"
)

// FileTypes lists every classification, fallback last.
var FileTypes = []FileType{TypeImage, TypeVideo, TypeAudio, TypeArchive, TypeDocument, TypeFile}

var extensionTypes = map[string]FileType{
	"jpg": TypeImage, "jpeg": TypeImage, "png": TypeImage, "gif": TypeImage, "webp": TypeImage,
	"mp4": TypeVideo, "avi": TypeVideo, "mov": TypeVideo, "wmv": TypeVideo,
	"mp3": TypeAudio, "wav": TypeAudio, "flac": TypeAudio, "aac": TypeAudio,
	"zip": TypeArchive, "rar": TypeArchive, "7z": TypeArchive, "tar": TypeArchive,
	"pdf": TypeDocument, "doc": TypeDocument, "docx": TypeDocument, "txt": TypeDocument, "rtf": TypeDocument,
}

// ParseFileType converts a user-supplied type name. Unknown names return false.
func ParseFileType(s string) (FileType, bool) {
	for _, t := range FileTypes {
		if string(t) == strings.ToLower(s) {
			return t, true
		}
	}
	return "", false
}

// Extension returns the lower-cased suffix after the last '.' of name,
// or "" when there is none.
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// ClassifyFile maps a file name to its FileType using the extension only.
func ClassifyFile(name string) FileType {
	if t, ok := extensionTypes[Extension(name)]; ok {
		return t
	}
	return TypeFile
}

// SizeLabel renders a byte count for humans, e.g. "200 KiB".
func SizeLabel(size int64) string {
	if size <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(size))
}
