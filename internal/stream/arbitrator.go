package stream

import (
	"firestige.xyz/tsnstream/internal/hal"
)

// applyFlowAction copies the flow fields owned by client from a into conf.
func applyFlowAction(conf *hal.FlowConf, client Client, a Action, ch *changes) {
	switch client {
	case ClientPSFP:
		if conf.DLBEnable != a.PSFP.DLBEnable {
			conf.DLBEnable = a.PSFP.DLBEnable
			ch.flow = true
		}
		if conf.DLBID != a.PSFP.DLBID {
			conf.DLBID = a.PSFP.DLBID
			ch.flow = true
		}
		if conf.PSFP != a.PSFP.Flow {
			conf.PSFP = a.PSFP.Flow
			ch.flow = true
		}
	case ClientFRER:
		if conf.FRER != a.FRER.Flow {
			conf.FRER = a.FRER.Flow
			ch.flow = true
		}
	}
}

// applyRuleAction copies the rule fields owned by client from a into ra.
// Only FRER owns rule fields.
func applyRuleAction(ra *hal.RuleAction, client Client, a Action, ch *changes) {
	if client != ClientFRER {
		return
	}
	if ra.VID != a.FRER.VID {
		ra.VID = a.FRER.VID
		ch.rule = true
	}
	if ra.PopEnable != a.FRER.PopEnable {
		ra.PopEnable = a.FRER.PopEnable
		ch.rule = true
	}
	if ra.PopCount != a.FRER.PopCount {
		ra.PopCount = a.FRER.PopCount
		ch.rule = true
	}
}

// resolveCutThrough recomputes the shared cut-through bit. PSFP wants
// cut-through enabled and FRER in recovery mode needs it disabled; when both
// are attached and both have an opinion, FRER wins.
func resolveCutThrough(cs ClientStatus, def bool) bool {
	p, f := cs.PSFP, cs.FRER
	switch {
	case p.Enable && f.Enable:
		if f.CutThroughOverride {
			return f.CutThroughDisable
		}
		if p.CutThroughOverride {
			return p.CutThroughDisable
		}
	case p.Enable && p.CutThroughOverride:
		return p.CutThroughDisable
	case f.Enable && f.CutThroughOverride:
		return f.CutThroughDisable
	}
	return def
}

func (e *Engine) applyCutThrough(conf *hal.FlowConf, cs ClientStatus, ch *changes) {
	ct := resolveCutThrough(cs, e.flowDefault.CutThroughDisable)
	if conf.CutThroughDisable != ct {
		conf.CutThroughDisable = ct
		ch.flow = true
	}
}

// effectiveAction is the action to apply for client: its own when enabled,
// otherwise the detach default.
func (e *Engine) effectiveAction(cs ClientStatus, client Client) Action {
	if a := cs.Client(client); a.Enable {
		return *a
	}
	return e.actionDefault[client]
}
