// Package models contains domain types for the spreadsheet service.
package models

import "time"

// FileRecord is the persisted state of one uploaded workbook.
type FileRecord struct {
	ID           string      `json:"id" msgpack:"id"`
	OwnerID      string      `json:"ownerId" msgpack:"ownerId"`
	OriginalName string      `json:"originalName" msgpack:"originalName"`
	StoredName   string      `json:"storedName" msgpack:"storedName"`
	Size         int64       `json:"size" msgpack:"size"`
	Status       FileStatus  `json:"status" msgpack:"status"`
	Sheets       []SheetData `json:"sheets" msgpack:"sheets"`
	Metadata     *Metadata   `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	Charts       []Chart     `json:"charts,omitempty" msgpack:"charts,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty" msgpack:"errorMessage,omitempty"`
	UploadedAt   time.Time   `json:"uploadDate" msgpack:"uploadDate"`
}

// Metadata summarises a decoded workbook. It is only set once decoding succeeded.
type Metadata struct {
	TotalSheets  int       `json:"totalSheets" msgpack:"totalSheets"`
	TotalRows    int       `json:"totalRows" msgpack:"totalRows"`
	TotalColumns int       `json:"totalColumns" msgpack:"totalColumns"`
	FileType     string    `json:"fileType" msgpack:"fileType"`
	ProcessedAt  time.Time `json:"processedAt" msgpack:"processedAt"`
}

// Chart is a saved chart definition attached to a completed file.
type Chart struct {
	ID        string    `json:"id" msgpack:"id"`
	Type      string    `json:"type" msgpack:"type"`
	Title     string    `json:"title" msgpack:"title"`
	Sheet     string    `json:"sheet,omitempty" msgpack:"sheet,omitempty"`
	XAxis     string    `json:"xAxis" msgpack:"xAxis"`
	YAxis     string    `json:"yAxis" msgpack:"yAxis"`
	CreatedAt time.Time `json:"createdAt" msgpack:"createdAt"`
}

// NewFileRecord creates a record for a freshly received upload in processing status.
func NewFileRecord(id, ownerID, originalName, storedName string, size int64) *FileRecord {
	return &FileRecord{
		ID:           id,
		OwnerID:      ownerID,
		OriginalName: originalName,
		StoredName:   storedName,
		Size:         size,
		Status:       FileStatusProcessing,
		Sheets:       make([]SheetData, 0),
		UploadedAt:   time.Now().UTC(),
	}
}
