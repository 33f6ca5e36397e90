package domain

import "time"

// Document is a reference file available to the assistant.
type Document struct {
	Name       string    `json:"name"`
	StoredName string    `json:"-"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"upload_date"`
}
