package model

import (
	"fmt"
	"strings"
	"time"
)

// Repository is a GitHub repository watched by the runner. The watch list is
// derived from the loaded workflows; LastSeenSHA is how the poll service
// detects that the branch head moved.
type Repository struct {
	FullName    string
	Owner       string
	Name        string
	Branch      string
	LastSeenSHA string
	AddedAt     time.Time
}

// SplitRepo parses an "owner/name" slug into its components.
func SplitRepo(fullName string) (owner, name string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository name %q, expected owner/name", fullName)
	}
	return parts[0], parts[1], nil
}
