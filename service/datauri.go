package service

import (
	"strings"

	"github.com/vincent-petithory/dataurl"
)

// EncodeDataURI renders content as a base64 data URI with the given media
// type. Malformed types fall back to application/octet-stream.
func EncodeDataURI(contentType string, content []byte) string {
	if strings.Count(contentType, "/") != 1 {
		contentType = "application/octet-stream"
	}
	return dataurl.New(content, contentType).String()
}
