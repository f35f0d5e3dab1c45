package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/choicesim/internal/decision"
	"github.com/ShayCichocki/choicesim/internal/limiter"
	"github.com/ShayCichocki/choicesim/internal/world"
	"github.com/ShayCichocki/choicesim/pkg/models"
)

// ErrAborted is the failure recorded for agents cut off by Abort.
var ErrAborted = errors.New("run aborted")

func newResponse(agent models.AgentDefinition, started time.Time) models.Response {
	return models.Response{
		AgentID:     agent.ID,
		AgentName:   agent.Name,
		SegmentID:   agent.SegmentID,
		Traits:      agent.Traits,
		ReasonCodes: []string{},
		Timings:     models.Timings{StartedAt: started},
	}
}

func errorResponse(agent models.AgentDefinition, started time.Time, reason string) models.Response {
	resp := newResponse(agent, started)
	resp.Error = true
	resp.Reason = reason
	resp.Timings.EndedAt = time.Now()
	return resp
}

// runAgent drives one agent from spawn to exit and returns its Response.
// Once the agent has a sprite, Exit is called exactly once on every path.
func (o *Orchestrator) runAgent(ctx context.Context, agent models.AgentDefinition) (resp models.Response) {
	resp = newResponse(agent, time.Now())
	o.notifyUpdate(models.AgentProcessing, agent, "", "")

	id, err := o.ensureSprite(ctx, agent)
	if err != nil {
		o.logger.Log("[workflow] %s: spawn failed: %v", agent.ID, err)
		resp = errorResponse(agent, resp.Timings.StartedAt, fmt.Sprintf("spawn failed: %v", err))
		o.notifyUpdate(models.AgentErrored, agent, resp.Reason, "")
		return resp
	}
	defer func() {
		if err := o.world.Exit(context.WithoutCancel(ctx), id); err != nil {
			o.logger.Log("[workflow] %s: exit: %v", agent.ID, err)
		}
		resp.Timings.EndedAt = time.Now()
		o.notifyUpdate(models.AgentExited, agent, "", "")
	}()

	if err := o.world.Wander(ctx, id, o.opts.wanderSteps); err != nil {
		o.logger.Log("[workflow] %s: wander: %v", agent.ID, err)
	}
	o.notifyUpdate(models.AgentWander, agent, "", "")

	raw, err := o.decide(ctx, id, agent)
	if err != nil {
		return o.failAgent(ctx, id, agent, resp, fmt.Sprintf("decision failed: %v", err))
	}

	dec := decision.Normalize(*raw)
	if dec.Error != "" {
		return o.failAgent(ctx, id, agent, resp, dec.Error)
	}

	resp.Reason = dec.Reason
	resp.Confidence = dec.Confidence
	resp.ReasonCodes = dec.ReasonCodes

	if dec.IsNoChoice() {
		o.say(ctx, id, agent, dec.Reason)
		o.notifyUpdate(models.AgentDecidedNone, agent, dec.Reason, "")
		return resp
	}

	alt, ok := decision.ResolveAlternative(dec.ChosenAlternativeID, o.alternatives)
	if !ok {
		return o.failAgent(ctx, id, agent, resp, fmt.Sprintf("unknown alternative %q", dec.ChosenAlternativeID))
	}
	resp.ChosenAlternativeID = &alt.ID
	resp.ChosenAlternativeName = &alt.Name
	o.notifyUpdate(models.AgentDecided, agent, dec.Reason, alt.ID)

	o.say(ctx, id, agent, dec.Reason)

	dest, ok := o.world.AlternativePosition(alt.ID)
	if !ok {
		o.logger.Log("[workflow] %s: no position for %s", agent.ID, alt.ID)
		return resp
	}
	if err := o.world.MoveTo(ctx, id, dest); err != nil {
		o.logger.Log("[workflow] %s: move to %s: %v", agent.ID, alt.ID, err)
	}
	// Misses are cosmetic.
	if err := o.world.Pick(ctx, id, dest); err != nil {
		o.logger.Log("[workflow] %s: pick %s: %v", agent.ID, alt.ID, err)
	}
	return resp
}

// ensureSprite returns the agent's pre-spawned sprite or adds a new one.
func (o *Orchestrator) ensureSprite(ctx context.Context, agent models.AgentDefinition) (world.SpriteID, error) {
	if id, ok := o.takePreSpawned(agent.ID); ok {
		return id, nil
	}
	id, err := o.world.AddSprite(ctx, spriteSpec(agent))
	if err != nil {
		return "", err
	}
	o.notifyUpdate(models.AgentSpawned, agent, "", "")
	return id, nil
}

// decide shows the thinking signal and submits the decision call through the
// decision limiter. The signal is cleared whatever the outcome.
func (o *Orchestrator) decide(ctx context.Context, id world.SpriteID, agent models.AgentDefinition) (*models.Decision, error) {
	if err := o.world.ShowThinking(ctx, id); err != nil {
		o.logger.Log("[workflow] %s: show thinking: %v", agent.ID, err)
	}
	defer func() {
		if err := o.world.ClearThinking(context.WithoutCancel(ctx), id); err != nil {
			o.logger.Log("[workflow] %s: clear thinking: %v", agent.ID, err)
		}
	}()
	o.notifyUpdate(models.AgentThinking, agent, "", "")

	fut := limiter.Run(ctx, o.inner, func(ctx context.Context) (*models.Decision, error) {
		if o.isAborted() {
			return nil, ErrAborted
		}
		o.adjustDeciding(1)
		defer o.adjustDeciding(-1)
		return o.decider.Decide(ctx, agent, o.alternatives)
	})
	dec, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if dec == nil {
		return nil, errors.New("empty decision")
	}
	return dec, nil
}

// failAgent announces the failure and turns resp into an error Response.
func (o *Orchestrator) failAgent(ctx context.Context, id world.SpriteID, agent models.AgentDefinition, resp models.Response, reason string) models.Response {
	o.logger.Log("[workflow] %s: %s", agent.ID, reason)
	o.say(ctx, id, agent, reason)
	o.notifyUpdate(models.AgentErrored, agent, reason, "")

	resp.Error = true
	resp.Reason = reason
	resp.Confidence = 0
	resp.ReasonCodes = []string{}
	resp.ChosenAlternativeID = nil
	resp.ChosenAlternativeName = nil
	return resp
}

func (o *Orchestrator) say(ctx context.Context, id world.SpriteID, agent models.AgentDefinition, text string) {
	if err := o.world.Say(ctx, id, text); err != nil {
		o.logger.Log("[workflow] %s: say: %v", agent.ID, err)
	}
}

func spriteSpec(agent models.AgentDefinition) world.SpriteSpec {
	return world.SpriteSpec{
		AgentID:   agent.ID,
		Name:      agent.Name,
		SegmentID: agent.SegmentID,
		Traits:    agent.Traits,
	}
}
