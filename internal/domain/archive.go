package domain

// ArchiveInfo is the result of a metadata-only analysis pass over an
// archive. Nothing is extracted to produce it.
type ArchiveInfo struct {
	Type              string   `json:"type"`
	TotalSize         int64    `json:"total_size"`
	CompressedSize    int64    `json:"compressed_size"`
	Ratio             float64  `json:"ratio"`
	FileCount         int      `json:"file_count"`
	Files             []string `json:"files"`
	HasExecutable     bool     `json:"has_executable"`
	HasHiddenFiles    bool     `json:"has_hidden_files"`
	HasNestedArchives bool     `json:"has_nested_archives"`
	Warnings          []string `json:"warnings,omitempty"`
}

// ExtractionResult reports the outcome of one extraction attempt.
// Per-entry violations are recorded here, not raised as errors.
type ExtractionResult struct {
	Success    bool     `json:"success"`
	Dir        string   `json:"dir,omitempty"`
	Extracted  []string `json:"extracted"`
	Skipped    []string `json:"skipped,omitempty"`
	Violations []string `json:"violations,omitempty"`
	TotalBytes int64    `json:"total_bytes"`
	Error      string   `json:"error,omitempty"`
}
