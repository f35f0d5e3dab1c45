package simulation

import "github.com/ShayCichocki/choicesim/pkg/models"

// Observer receives run notifications. Calls are serialized by the
// orchestrator, so implementations need no locking of their own. Callbacks
// must not call Abort, Pause or Resume synchronously.
type Observer interface {
	// OnProgress is called after every state-affecting event.
	OnProgress(models.ProgressSnapshot)
	// OnAgentUpdate is called at each workflow transition.
	OnAgentUpdate(models.AgentUpdate)
	// OnComplete is called exactly once when the run reaches a terminal status.
	OnComplete(models.RunResults)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress    func(models.ProgressSnapshot)
	AgentUpdate func(models.AgentUpdate)
	Complete    func(models.RunResults)
}

// OnProgress implements Observer.
func (f ObserverFuncs) OnProgress(s models.ProgressSnapshot) {
	if f.Progress != nil {
		f.Progress(s)
	}
}

// OnAgentUpdate implements Observer.
func (f ObserverFuncs) OnAgentUpdate(u models.AgentUpdate) {
	if f.AgentUpdate != nil {
		f.AgentUpdate(u)
	}
}

// OnComplete implements Observer.
func (f ObserverFuncs) OnComplete(r models.RunResults) {
	if f.Complete != nil {
		f.Complete(r)
	}
}
