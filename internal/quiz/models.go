package quiz

import (
	"strconv"
	"strings"
)

type AttemptState string

const (
	StateInProgress AttemptState = "inprogress"
	StateOverdue    AttemptState = "overdue"
	StateFinished   AttemptState = "finished"
	StateAbandoned  AttemptState = "abandoned"
)

// IsFinished reports whether an attempt in state s can no longer receive answers.
func IsFinished(s AttemptState) bool {
	return s == StateFinished || s == StateAbandoned
}

type Quiz struct {
	ID       int64  `json:"id"`
	CourseID int64  `json:"course"`
	CMID     int64  `json:"coursemodule"`
	Name     string `json:"name"`
}

// Attempt is the authoritative (online) projection of an attempt.
type Attempt struct {
	ID           int64        `json:"id"`
	QuizID       int64        `json:"quiz"`
	UserID       int64        `json:"userid"`
	State        AttemptState `json:"state"`
	CurrentPage  int          `json:"currentpage"`
	Layout       [][]int      `json:"-"` // pages of slots
	TimeModified int64        `json:"timemodified"`
}

// OfflineAttempt is an attempt recorded locally while disconnected.
type OfflineAttempt struct {
	ID           int64 `json:"id"`
	QuizID       int64 `json:"quizid"`
	CourseID     int64 `json:"courseid"`
	UserID       int64 `json:"userid"`
	CurrentPage  int   `json:"currentpage"`
	Finished     bool  `json:"finished"`
	TimeCreated  int64 `json:"timecreated"`
	TimeModified int64 `json:"timemodified"`
}

// SlotAnswers holds the stored answer fields of one question slot.
type SlotAnswers struct {
	Slot          int               `json:"slot"`
	SequenceCheck string            `json:"sequencecheck"`
	Fields        map[string]string `json:"fields"`
}

// Question is the online state of the question in a slot.
type Question struct {
	Slot          int    `json:"slot"`
	Type          string `json:"type"`
	Number        int    `json:"number,omitempty"`
	Page          int    `json:"page"`
	SequenceCheck int    `json:"sequencecheck"`
	State         string `json:"state,omitempty"`
	Status        string `json:"status,omitempty"`
}

type AccessInfo struct {
	ActiveRules     []string `json:"activerulenames"`
	PreflightFields []string `json:"preflightfields"`
}

type SyncResult struct {
	Warnings        []string `json:"warnings"`
	AttemptFinished bool     `json:"attempt_finished"`
	Updated         bool     `json:"updated"`
}

// ParseLayout turns the remote layout ("1,2,0,3,0") into pages of slots.
func ParseLayout(s string) [][]int {
	var pages [][]int
	var cur []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		if n == 0 {
			pages = append(pages, cur)
			cur = nil
			continue
		}
		cur = append(cur, n)
	}
	if len(cur) > 0 {
		pages = append(pages, cur)
	}
	return pages
}

// PagesForSlots returns, in ascending order, the layout pages containing any of slots.
func PagesForSlots(layout [][]int, slots map[int]SlotAnswers) []int {
	var out []int
	for page, pageSlots := range layout {
		for _, s := range pageSlots {
			if _, ok := slots[s]; ok {
				out = append(out, page)
				break
			}
		}
	}
	return out
}
