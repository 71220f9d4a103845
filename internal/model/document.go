package model

// UploadFile is one input file carried by an upload request (§6 HTTP
// upload): a "file" multipart part before it has been persisted to
// Document Storage.
type UploadFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// IngestedMimeTypes lists the mime types the built-in decoder matrix knows
// how to extract text from (§4.3 Extract, §4.4). A file whose mime type is
// absent here is a FatalError: unsupported mime type (§7).
var IngestedMimeTypes = map[string]bool{
	"text/plain":    true,
	"text/markdown": true,
	"text/html":     true,
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"image/png":  true,
	"image/jpeg": true,
}

// MaxFileSizeBytes is the maximum size accepted for a single uploaded file.
const MaxFileSizeBytes = 50 * 1024 * 1024
