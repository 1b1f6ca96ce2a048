package domain

import "time"

// ProjectStructure summarises the files of a workspace.
type ProjectStructure struct {
	Language    string   `json:"language"`
	HasTests    bool     `json:"hasTests"`
	TestFiles   []string `json:"testFiles"`
	SourceFiles []string `json:"sourceFiles"`
}

// CommitInfo is one entry of the commit history.
type CommitInfo struct {
	Hash         string    `json:"hash"`
	Author       string    `json:"author"`
	Date         time.Time `json:"date"`
	Message      string    `json:"message"`
	FilesChanged []string  `json:"filesChanged"`
}
