package models

// FileStatus represents the lifecycle status of an uploaded workbook.
type FileStatus string

const (
	FileStatusUploading  FileStatus = "uploading"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusError      FileStatus = "error"
)

// transitions lists the statuses reachable from each status.
var transitions = map[FileStatus][]FileStatus{
	FileStatusUploading:  {FileStatusProcessing, FileStatusCompleted, FileStatusError},
	FileStatusProcessing: {FileStatusCompleted, FileStatusError},
}

// Valid reports whether s is one of the known statuses.
func (s FileStatus) Valid() bool {
	switch s {
	case FileStatusUploading, FileStatusProcessing, FileStatusCompleted, FileStatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
func (s FileStatus) Terminal() bool {
	return s == FileStatusCompleted || s == FileStatusError
}

// CanTransitionTo reports whether moving from s to next is a forward transition.
func (s FileStatus) CanTransitionTo(next FileStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
