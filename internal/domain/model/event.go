package model

import "time"

// PushEvent is the head commit observed on a watched branch. The poll service
// synthesizes one whenever the branch head moves.
type PushEvent struct {
	RepoFullName string
	Branch       string
	SHA          string
	Message      string
	Author       string
	CommittedAt  time.Time
}
