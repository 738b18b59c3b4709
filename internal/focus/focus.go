// Package focus picks the single work item to recommend next.
package focus

import (
	"sort"
	"time"

	"github.com/KafClaw/roadmap/internal/lifecycle"
)

// Tier is the priority band of a focus result. Lower values win.
type Tier int

const (
	TierSidequest Tier = iota + 1
	TierSubtask
	TierTask
	TierIdle
)

func (t Tier) String() string {
	switch t {
	case TierSidequest:
		return "sidequest"
	case TierSubtask:
		return "subtask"
	case TierTask:
		return "task"
	case TierIdle:
		return "idle"
	}
	return "unknown"
}

// MarshalText renders the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Candidate is one open work item offered to the resolver.
type Candidate struct {
	Kind      lifecycle.Kind     `json:"kind"`
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Status    lifecycle.Status   `json:"status"`
	Priority  lifecycle.Priority `json:"priority"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Ref points at the candidate's entity.
func (c Candidate) Ref() lifecycle.Ref {
	return lifecycle.Ref{Kind: c.Kind, ID: c.ID}
}

// Item is the resolver's answer. When Tier is TierIdle the Candidate is zero.
type Item struct {
	Tier      Tier `json:"tier"`
	Candidate `json:"item"`
}

// Idle is the distinguished "all work complete" answer.
var Idle = Item{Tier: TierIdle}

// IsIdle reports whether no open work remains.
func (i Item) IsIdle() bool { return i.Tier == TierIdle }

// Resolve returns the focus item: the oldest open sidequest, else the oldest
// open subtask, else the highest-priority oldest open task, else Idle.
// Inputs are filtered and sorted here, so caller ordering never matters.
func Resolve(sidequests, subtasks, tasks []Candidate) Item {
	if c, ok := pick(sidequests, false); ok {
		return Item{Tier: TierSidequest, Candidate: c}
	}
	if c, ok := pick(subtasks, false); ok {
		return Item{Tier: TierSubtask, Candidate: c}
	}
	if c, ok := pick(tasks, true); ok {
		return Item{Tier: TierTask, Candidate: c}
	}
	return Idle
}

func pick(in []Candidate, byPriority bool) (Candidate, bool) {
	open := make([]Candidate, 0, len(in))
	for _, c := range in {
		if c.Status.Open() {
			open = append(open, c)
		}
	}
	if len(open) == 0 {
		return Candidate{}, false
	}
	sort.SliceStable(open, func(i, j int) bool {
		a, b := open[i], open[j]
		if byPriority && a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return open[0], true
}
