package lifecycle

import (
	"fmt"

	"github.com/KafClaw/roadmap/internal/fault"
)

// Action is a requested status change.
type Action string

const (
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
)

// Origin says who asked for a transition. Pause and resume are only legal
// when the hierarchy cascade asks for them.
type Origin int

const (
	OriginUser Origin = iota
	OriginCascade
)

// Ref is a weak pointer to an entity.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// IsZero reports whether the ref points at nothing.
func (r Ref) IsZero() bool { return r.ID == "" }

func (r Ref) String() string {
	if r.IsZero() {
		return "-"
	}
	return string(r.Kind) + ":" + r.ID
}

// Entity is the slice of an entity the transition rules need.
type Entity struct {
	Kind   Kind
	ID     string
	Status Status
	// Parent is the owning milestone for a task and the owning task for a subtask.
	Parent Ref
	// Owner is a sidequest's weak back-reference to the work it interrupted.
	Owner Ref
}

// ObligationType names follow-up work the caller must apply in the same transaction
// (or, for signals, after it commits).
type ObligationType string

const (
	ObligationResumeParentIfClear   ObligationType = "resume_parent_if_clear"
	ObligationSignalResumeCandidate ObligationType = "signal_resume_candidate"
	ObligationRecomputeMilestone    ObligationType = "recompute_milestone"
)

// Obligation is one cascade consequence of a transition.
type Obligation struct {
	Type   ObligationType
	Target Ref
}

// Result is the outcome of a legal transition.
type Result struct {
	From        Status
	Status      Status
	Obligations []Obligation
}

type edge struct {
	to          Status
	cascadeOnly bool
}

var workTransitions = map[Status]map[Action]edge{
	StatusPending: {
		ActionStart:  {to: StatusInProgress},
		ActionCancel: {to: StatusCancelled},
	},
	StatusInProgress: {
		ActionComplete: {to: StatusCompleted},
		ActionCancel:   {to: StatusCancelled},
	},
}

var taskTransitions = map[Status]map[Action]edge{
	StatusPending: {
		ActionStart:  {to: StatusInProgress},
		ActionCancel: {to: StatusCancelled},
		ActionPause:  {to: StatusPaused, cascadeOnly: true},
	},
	StatusInProgress: {
		ActionComplete: {to: StatusCompleted},
		ActionCancel:   {to: StatusCancelled},
		ActionPause:    {to: StatusPaused, cascadeOnly: true},
	},
	StatusPaused: {
		ActionResume: {to: StatusInProgress, cascadeOnly: true},
		// Starting a paused task is a resume in disguise.
		ActionStart: {to: StatusInProgress, cascadeOnly: true},
	},
}

func table(k Kind) (map[Status]map[Action]edge, bool) {
	switch k {
	case KindTask:
		return taskTransitions, true
	case KindSubtask, KindSidequest:
		return workTransitions, true
	}
	return nil, false
}

// CanTransition reports whether action is legal from status for the given
// kind and origin, without computing obligations.
func CanTransition(k Kind, from Status, a Action, o Origin) bool {
	_, err := Transition(Entity{Kind: k, Status: from}, a, o)
	return err == nil
}

// Transition validates action against the entity's current status and
// returns the new status plus the cascade obligations it creates.
func Transition(e Entity, a Action, o Origin) (Result, error) {
	t, ok := table(e.Kind)
	if !ok {
		return Result{}, fault.New(fault.IllegalTransition,
			fmt.Sprintf("%s has no transition rules", e.Kind), e.ID)
	}
	if (a == ActionPause || a == ActionResume) && e.Kind != KindTask {
		return Result{}, illegal(e, a)
	}
	next, ok := t[e.Status][a]
	if !ok {
		if o == OriginUser && (a == ActionPause || a == ActionResume) {
			return Result{}, forbidden(e, a)
		}
		return Result{}, illegal(e, a)
	}
	if next.cascadeOnly && o != OriginCascade {
		return Result{}, forbidden(e, a)
	}

	res := Result{From: e.Status, Status: next.to}
	switch e.Kind {
	case KindSubtask:
		if next.to.Terminal() && !e.Parent.IsZero() {
			res.Obligations = append(res.Obligations, Obligation{Type: ObligationResumeParentIfClear, Target: e.Parent})
		}
	case KindSidequest:
		if next.to == StatusCompleted && !e.Owner.IsZero() {
			res.Obligations = append(res.Obligations, Obligation{Type: ObligationSignalResumeCandidate, Target: e.Owner})
		}
	case KindTask:
		if next.to.Terminal() && !e.Parent.IsZero() {
			res.Obligations = append(res.Obligations, Obligation{Type: ObligationRecomputeMilestone, Target: e.Parent})
		}
	}
	return res, nil
}

func illegal(e Entity, a Action) error {
	return fault.New(fault.IllegalTransition,
		fmt.Sprintf("%s cannot %s from %s", e.Kind, a, e.Status), e.ID)
}

func forbidden(e Entity, a Action) error {
	return fault.New(fault.ForbiddenDirectTransition,
		fmt.Sprintf("%s %s is only applied by the subtask cascade", e.Kind, a), e.ID)
}
