package compiler

import (
	"sort"

	"github.com/wkleinhenz/zeek/vm"
)

// ---------------------------------------------------------------------------
// Static optimizer
// ---------------------------------------------------------------------------

// optimizeInsts repeats dead-code removal, branch collapsing, lifetime
// analysis, and unused-assignment pruning until a full pass changes
// nothing, then remaps the value and interpreter frames.
func (c *ZAM) optimizeInsts() {
	// Do accounting for targeted statements.
	for _, i := range c.insts1 {
		if i.Target != nil && i.Target.Live {
			i.Target.NumLabels++
		}
		if i.Target2 != nil && i.Target2.Live {
			i.Target2.NumLabels++
		}
	}

	for _, targs := range c.intCases {
		for _, t := range targs {
			t.NumLabels++
		}
	}
	for _, targs := range c.uintCases {
		for _, t := range targs {
			t.NumLabels++
		}
	}
	for _, targs := range c.doubleCases {
		for _, t := range targs {
			t.NumLabels++
		}
	}
	for _, targs := range c.strCases {
		for _, t := range targs {
			t.NumLabels++
		}
	}

	for {
		somethingChanged := false

		for c.removeDeadCode() {
			somethingChanged = true
		}

		for c.collapseGoTos() {
			somethingChanged = true
		}

		c.computeFrameLifetimes()

		if c.pruneUnused() {
			somethingChanged = true
		}

		if !somethingChanged {
			break
		}
	}

	c.reMapFrame()
	c.reMapInterpreterFrame()
}

// removeDeadCode kills instructions that follow a non-continuing
// instruction and have no incoming labels.
func (c *ZAM) removeDeadCode() bool {
	didRemoval := false

	for i := 0; i < len(c.insts1)-1; i++ {
		i0 := c.insts1[i]
		i1 := c.insts1[i+1]

		if i0.Live && i1.Live && i0.Op.DoesNotContinue() &&
			i0.Target != i1 && i1.NumLabels == 0 {
			didRemoval = true
			c.killInst(i1)
		}
	}

	return didRemoval
}

// collapseGoTos chains branch-to-branch through to the final target
// and removes branches to the next live instruction.
func (c *ZAM) collapseGoTos() bool {
	didCollapse := false

	for i := 0; i < len(c.insts1); i++ {
		i0 := c.insts1[i]

		if !i0.Live {
			continue
		}

		t := i0.Target
		if t == nil {
			continue
		}

		// target2 is rare enough not to bother optimizing.

		if t.Op.IsUnconditionalBranch() && t != c.pending {
			// Collapse branch-to-branch.
			didCollapse = true
			for t.Op.IsUnconditionalBranch() && t.Target != nil {
				t.NumLabels--
				t = t.Target
				i0.Target = t
				t.NumLabels++
				if t == c.pending {
					break
				}
			}
		}

		// Collapse branch-to-next-statement, taking dead code into
		// account.
		j := i + 1

		branchesIntoDead := false
		for j < len(c.insts1) && !c.insts1[j].Live {
			if t == c.insts1[j] {
				branchesIntoDead = true
			}
			j++
		}

		// j now points at the first live instruction after i.
		if branchesIntoDead ||
			(j < len(c.insts1) && t == c.insts1[j]) ||
			(j == len(c.insts1) && t == c.pending) {
			if t != c.pending {
				t.NumLabels--
			}

			if i0.Op.IsUnconditionalBranch() {
				// No point keeping the branch.
				i0.Live = false
				didCollapse = true
			} else if j < len(c.insts1) {
				// Retarget to the live instruction.
				i0.Target = c.insts1[j]
				i0.Target.NumLabels++
			}
		}
	}

	return didCollapse
}

// pruneUnused kills assignments to slots with no later use, or
// re-flavors them to their assignmentless counterparts when they carry
// side effects.
func (c *ZAM) pruneUnused() bool {
	didPrune := false

	for _, inst := range c.insts1 {
		if !inst.Live {
			continue
		}

		if inst.Op.IsFrameStore() && !c.varIsAssigned(inst.V1) {
			didPrune = true
			c.killInst(inst)
			continue
		}

		if inst.Op.IsLoad() && !c.varIsUsed(inst.V1) {
			didPrune = true
			c.killInst(inst)
			continue
		}

		if !inst.Op.AssignsToSlot1() {
			continue
		}

		slot := inst.V1
		if _, used := c.denizenEnding[slot]; used {
			continue
		}
		if c.frameDenizens[slot].IsGlobal() {
			continue
		}

		// Assignment to a local that isn't otherwise used.
		if !inst.Op.HasSideEffects() {
			didPrune = true
			c.killInst(inst)
			continue
		}

		// Transform the instruction into its flavor that doesn't make
		// an assignment.
		switch inst.Op {
		case vm.OpLogWriteVVV:
			inst.Op = vm.OpLogWriteVV
			inst.OpType = vm.OpLogWriteVV.DefaultOpType()
			inst.V1 = inst.V2
			inst.V2 = inst.V3

		case vm.OpLogWriteVVC:
			inst.Op = vm.OpLogWriteVC
			inst.OpType = vm.OpLogWriteVC.DefaultOpType()
			inst.V1 = inst.V2

		case vm.OpBrokerFlushLogsV:
			inst.Op = vm.OpBrokerFlushLogsX
			inst.OpType = vm.OpBrokerFlushLogsX.DefaultOpType()

		default:
			if less, ot, ok := vm.AssignmentlessOp(inst.Op); ok {
				inst.Op = less
				inst.OpType = ot

				inst.V1 = inst.V2
				inst.V2 = inst.V3
				inst.V3 = inst.V4
			} else {
				c.internalError("inconsistency in re-flavoring instruction with side effects")
			}
		}

		// The instruction survives but the assignment is gone, so
		// variable lifetimes need reassessing.
		didPrune = true
	}

	return didPrune
}

// ---------------------------------------------------------------------------
// Lifetime analysis
// ---------------------------------------------------------------------------

func (c *ZAM) computeFrameLifetimes() {
	// Start from scratch; this runs repeatedly.
	c.instBeginnings = make(map[*vm.ZInst]map[*ID]bool)
	c.instEndings = make(map[*vm.ZInst]map[*ID]bool)
	c.denizenBeginning = make(map[int]*vm.ZInst)
	c.denizenEnding = make(map[int]*vm.ZInst)

	for i, inst := range c.insts1 {
		if !inst.Live {
			continue
		}

		if inst.Op.AssignsToSlot1() {
			c.checkSlotAssignment(inst.V1, inst)
		}

		// Some special-casing.
		switch inst.Op {
		case vm.OpNextTableIterVV, vm.OpNextTableIterValVarVVV:
			// These assign to an arbitrary list of variables.  Mark
			// each as used throughout the loop too: pruning one, or
			// doubling it with another value inside the loop, breaks
			// the iteration (or its memory management).
			iterVars := inst.Aux.Iter
			depth := inst.LoopDepth

			for _, v := range iterVars.LoopVars {
				c.checkSlotAssignment(v, inst)
				c.extendLifetime(v, c.endOfLoop(inst, depth))
			}

			if inst.Op == vm.OpNextTableIterValVarVVV {
				c.extendLifetime(inst.V1, c.endOfLoop(inst, depth))
			}

		case vm.OpSyncGlobalsX:
			// Extend the lifetime of any modified globals.  Outside
			// any loop the extension reaches the end of the function.
			for g := range c.modifiedGlobals {
				gs := c.frameLayout1[g]
				if _, loaded := c.denizenBeginning[gs]; !loaded {
					// Global hasn't been loaded yet.
					continue
				}
				c.extendLifetime(gs, c.syncExtent(inst))
			}

		case vm.OpInitTableLoopVVc, vm.OpInitVectorLoopVV, vm.OpInitStringLoopVV:
			// The looped-over aggregate is in scope for the entire
			// loop even if it doesn't appear in it.
			if i >= len(c.insts1)-1 {
				c.internalError("loop initializer at end of code")
				continue
			}
			succ := c.insts1[i+1]
			depth := succ.LoopDepth
			c.extendLifetime(inst.V2, c.endOfLoop(succ, depth))

			// Skip the usual slot-use analysis: it's already set, and
			// re-extending would perturb the consistency check.
			continue

		default:
			// Look for slots in auxiliary information.
			if inst.Aux != nil {
				for _, e := range inst.Aux.Elems {
					if e.Slot < 0 {
						continue
					}
					c.extendLifetime(e.Slot, c.endOfLoop(inst, 1))
				}
			}
		}

		s1, s2, s3, s4, any := inst.UsesSlots()
		if !any {
			continue
		}

		c.checkSlotUse(s1, inst)
		c.checkSlotUse(s2, inst)
		c.checkSlotUse(s3, inst)
		c.checkSlotUse(s4, inst)
	}
}

func (c *ZAM) checkSlotAssignment(slot int, inst *vm.ZInst) {
	// Temporaries are constructed so their values are never used
	// before their definitions in loop bodies.  Other denizens can
	// flow around the back-edge, so their lifetime beginning expands
	// to the start of any enclosing loop.
	if !c.reducer.IsTemporary(c.frameDenizens[slot]) {
		inst = c.beginningOfLoop(inst, 1)
	}

	c.setLifetimeStart(slot, inst)
}

func (c *ZAM) setLifetimeStart(slot int, inst *vm.ZInst) {
	if _, seen := c.denizenBeginning[slot]; seen {
		return
	}

	c.denizenBeginning[slot] = inst

	if c.instBeginnings[inst] == nil {
		c.instBeginnings[inst] = make(map[*ID]bool)
	}
	c.instBeginnings[inst][c.frameDenizens[slot]] = true
}

func (c *ZAM) checkSlotUse(slot int, inst *vm.ZInst) {
	if slot < 0 {
		return
	}

	// Temporaries don't extend around loop bodies -- unless defined
	// at a shallower loop depth than this use, in which case the
	// lifetime runs to the end of this instruction's loop.
	if c.reducer.IsTemporary(c.frameDenizens[slot]) {
		if beg, seen := c.denizenBeginning[slot]; seen &&
			inst.LoopDepth > beg.LoopDepth {
			inst = c.endOfLoop(inst, inst.LoopDepth)
		}
	} else {
		inst = c.endOfLoop(inst, 1)
	}

	c.extendLifetime(slot, inst)
}

func (c *ZAM) extendLifetime(slot int, inst *vm.ZInst) {
	old, seen := c.denizenEnding[slot]
	if seen {
		// Don't regress lifetimes already extended by loop handling.
		if old.InstNum >= inst.InstNum {
			return
		}

		delete(c.instEndings[old], c.frameDenizens[slot])
	}

	c.denizenEnding[slot] = inst
	if c.instEndings[inst] == nil {
		c.instEndings[inst] = make(map[*ID]bool)
	}
	c.instEndings[inst][c.frameDenizens[slot]] = true
}

// beginningOfLoop moves back to the live start of the outermost loop
// of at least the given depth enclosing inst.
func (c *ZAM) beginningOfLoop(inst *vm.ZInst, depth int) *vm.ZInst {
	i := inst.InstNum

	for i >= 0 && c.insts1[i].LoopDepth >= depth {
		i--
	}

	if i == inst.InstNum {
		return inst
	}

	// We've moved just beyond a loop that inst is part of; move to
	// its live beginning.
	i++
	for i != inst.InstNum && !c.insts1[i].Live {
		i++
	}

	return c.insts1[i]
}

// endOfLoop moves forward to the live end of the outermost loop of at
// least the given depth enclosing inst.
func (c *ZAM) endOfLoop(inst *vm.ZInst, depth int) *vm.ZInst {
	i := inst.InstNum

	for i < len(c.insts1) && c.insts1[i].LoopDepth >= depth {
		i++
	}

	if i == inst.InstNum {
		return inst
	}

	i--
	for i != inst.InstNum && !c.insts1[i].Live {
		i--
	}

	return c.insts1[i]
}

// syncExtent is the lifetime extension a sync point imposes on dirty
// globals: the end of the enclosing loop, or the last live instruction
// when no loop encloses the sync.
func (c *ZAM) syncExtent(inst *vm.ZInst) *vm.ZInst {
	if inst.LoopDepth > 0 {
		return c.endOfLoop(inst, 1)
	}

	for i := len(c.insts1) - 1; i > inst.InstNum; i-- {
		if c.insts1[i].Live {
			return c.insts1[i]
		}
	}
	return inst
}

func (c *ZAM) varIsAssigned(slot int) bool {
	for _, inst := range c.insts1 {
		if inst.Live && c.varIsAssignedBy(slot, inst) {
			return true
		}
	}
	return false
}

func (c *ZAM) varIsAssignedBy(slot int, i *vm.ZInst) bool {
	// Table iterators assign a bunch of variables that aren't visible
	// in the instruction layout.
	if i.Op == vm.OpNextTableIterValVarVVV || i.Op == vm.OpNextTableIterVV {
		for _, v := range i.Aux.Iter.LoopVars {
			if v == slot {
				return true
			}
		}

		if i.Op != vm.OpNextTableIterValVarVVV {
			return false
		}
		// That flavor does also assign to slot 1; fall through.
	}

	if i.Op.IsLoad() || i.Op.IsFrameStore() {
		// Loads don't count: the point is finding variables whose
		// internal value is never modified.
		return false
	}

	return i.Op.AssignsToSlot1() && i.V1 == slot
}

func (c *ZAM) varIsUsed(slot int) bool {
	for _, inst := range c.insts1 {
		if !inst.Live {
			continue
		}
		if inst.UsesSlot(slot) {
			return true
		}
		if inst.Aux != nil {
			for _, e := range inst.Aux.Elems {
				if e.Slot == slot {
					return true
				}
			}
			if inst.Aux.Iter != nil {
				for _, v := range inst.Aux.Iter.LoopVars {
					if v == slot {
						return true
					}
				}
			}
		}
	}
	return false
}

func (c *ZAM) killInst(i *vm.ZInst) {
	i.Live = false
	if i.Target != nil {
		i.Target.NumLabels--
	}
	if i.Target2 != nil {
		i.Target2.NumLabels--
	}
}

// findLiveTarget resolves a branch target forward through dead code.
func (c *ZAM) findLiveTarget(target *vm.ZInst) *vm.ZInst {
	if target == c.pending {
		return target
	}

	idx := target.InstNum
	for idx < len(c.insts1) && !c.insts1[idx].Live {
		idx++
	}

	if idx == len(c.insts1) {
		return c.pending
	}
	return c.insts1[idx]
}

// retargetBranch writes the target's final instruction number into the
// branch's designated operand.
func (c *ZAM) retargetBranch(inst, target *vm.ZInst, targetSlot int) {
	var t int
	if target == c.pending {
		t = len(c.insts2)
	} else {
		t = target.InstNum
	}

	switch targetSlot {
	case 1:
		inst.V1 = t
	case 2:
		inst.V2 = t
	case 3:
		inst.V3 = t
	case 4:
		inst.V4 = t
	default:
		c.internalError("bad GoTo target")
	}
}

// ---------------------------------------------------------------------------
// Frame remapping
// ---------------------------------------------------------------------------

// reMapFrame walks live instructions in order and, at each lifetime
// beginning, assigns the denizen to a shared post-optimization slot.
func (c *ZAM) reMapFrame() {
	c.frame1ToFrame2 = make([]int, len(c.frameDenizens))
	for i := range c.frame1ToFrame2 {
		c.frame1ToFrame2[i] = -1
	}
	c.managedSlots = nil
	c.managedSlotTypes = nil

	for i, inst := range c.insts1 {
		vars, ok := c.instBeginnings[inst]
		if !ok {
			continue
		}

		// Remap in original-slot order so cohort assignment is
		// deterministic when several lifetimes begin here.
		ordered := make([]*ID, 0, len(vars))
		for v := range vars {
			ordered = append(ordered, v)
		}
		sort.Slice(ordered, func(a, b int) bool {
			return c.frameLayout1[ordered[a]] < c.frameLayout1[ordered[b]]
		})

		for _, v := range ordered {
			// Skip variables whose values are never actually used.
			slot := c.frameLayout1[v]
			if _, used := c.denizenEnding[slot]; used {
				c.reMapVar(v, slot, i)
			}
		}
	}

	// Prune globals that didn't wind up used (they can be referenced
	// only from interpreted expressions).
	var usedGlobals []globalInfo
	c.remappedGlobals = make([]int, len(c.globals))

	for i := range c.globals {
		g := c.globals[i]
		g.slot = c.frame1ToFrame2[g.slot]
		if g.slot >= 0 {
			c.remappedGlobals[i] = len(usedGlobals)
			usedGlobals = append(usedGlobals, g)
		} else {
			c.remappedGlobals[i] = -1
		}
	}

	c.globals = usedGlobals

	// Now rewrite every live instruction's slot usage.  A direct
	// assignment that becomes <slot-n> = <slot-n> is dropped.
	n1Slots := len(c.frame1ToFrame2)

	for _, inst := range c.insts1 {
		if !inst.Live {
			continue
		}

		if inst.Op.AssignsToSlot1() {
			if inst.V1 < 0 || inst.V1 >= n1Slots {
				c.internalError("bad slot in frame remap")
				continue
			}
			inst.V1 = c.frame1ToFrame2[inst.V1]
		}

		switch inst.Op {
		case vm.OpNextTableIterVV, vm.OpNextTableIterValVarVVV:
			// Rewrite the iteration variables.
			vars := inst.Aux.Iter.LoopVars
			for j, v := range vars {
				vars[j] = c.frame1ToFrame2[v]
			}

		case vm.OpDirtyGlobalV:
			// v1 indexes globals[] rather than the frame.
			if c.remappedGlobals[inst.V1] < 0 {
				c.internalError("dirty marker for unused global")
				continue
			}
			inst.V1 = c.remappedGlobals[inst.V1]
			continue
		}

		if inst.Op.IsGlobalLoad() {
			// v2 indexes globals[] rather than the frame.
			if c.remappedGlobals[inst.V2] < 0 {
				c.internalError("load of unused global")
				continue
			}
			inst.V2 = c.remappedGlobals[inst.V2]
			continue
		}

		inst.UpdateSlots(c.frame1ToFrame2)

		if inst.Op.IsDirectAssignment() && inst.V1 == inst.V2 {
			c.killInst(inst)
		}
	}

	c.frameSize = len(c.sharedFrameDenizens)
}

// reMapVar finds a suitable post-optimization slot for an identifier
// whose lifetime begins at instruction inst.
//
// The allocation is deliberately greedy: first-fit over compatible
// cohorts, preferring one whose scope ends exactly at inst (which lets
// a parameter-copy assignment be elided).  Far and away the bulk of
// variables are short-lived temporaries, for which greedy works fine.
func (c *ZAM) reMapVar(id *ID, slot, inst int) {
	isManaged := vm.IsManagedType(id.T)

	aptSlot := -1
	for i := range c.sharedFrameDenizens {
		s := &c.sharedFrameDenizens[i]

		// The test is <= rather than <: assignment happens after
		// operand use, so operands and destinations may share a slot.
		if s.scopeEnd <= inst && s.isManaged == isManaged {
			if s.scopeEnd == inst {
				// Ends right on the money.
				aptSlot = i
				break
			}
			if aptSlot < 0 {
				// A candidate; keep looking for an exact fit.
				aptSlot = i
			}
		}
	}

	scopeEnd := c.denizenEnding[slot].InstNum

	if aptSlot < 0 {
		// No compatible existing slot; create a new one.
		aptSlot = len(c.sharedFrameDenizens)
		c.sharedFrameDenizens = append(c.sharedFrameDenizens,
			frameSharingInfo{isManaged: isManaged})

		if isManaged {
			c.managedSlots = append(c.managedSlots, aptSlot)
			c.managedSlotTypes = append(c.managedSlotTypes, id.T)
		}
	}

	s := &c.sharedFrameDenizens[aptSlot]
	s.ids = append(s.ids, id)
	s.idStart = append(s.idStart, inst)
	s.scopeEnd = scopeEnd

	c.frame1ToFrame2[slot] = aptSlot
}

// reMapInterpreterFrame doubles up interpreter-frame slots for cohorts
// that share a post-optimization slot, and rewrites load/store
// instructions accordingly.
func (c *ZAM) reMapInterpreterFrame() {
	// Parameters keep their leading offsets; the calling sequence for
	// compiled functions depends on them.
	interpreterSlots := make(map[*ID]int)
	oldIntrpSlotToNew := make(map[int]int)

	nextInterpSlot := 0
	nparam := len(c.fn.Params)

	for _, a := range c.scope.OrderedVars() {
		if nparam--; nparam < 0 {
			break
		}
		interpreterSlots[a] = nextInterpSlot
		oldIntrpSlotToNew[a.Offset] = nextInterpSlot
		nextInterpSlot++
	}

	for _, sf := range c.sharedFrameDenizens {
		// Interpreter slot shared by this cohort, if any; a cohort
		// containing a parameter already has one.
		cohortSlot := -1

		for _, id := range sf.ids {
			if s, ok := interpreterSlots[id]; ok {
				cohortSlot = s
			}
		}

		for _, id := range sf.ids {
			if !c.interpreterLocals[id] {
				continue
			}
			if _, ok := interpreterSlots[id]; ok {
				// Already mapped, presumably a parameter.
				continue
			}

			if cohortSlot < 0 {
				cohortSlot = nextInterpSlot
				nextInterpSlot++
			}

			interpreterSlots[id] = cohortSlot
			oldIntrpSlotToNew[id.Offset] = cohortSlot

			// Make the leap!
			id.SetOffset(cohortSlot)
		}
	}

	// Some locals may live only in interpreter-land, depending on what
	// gets deferred to the interpreter.
	for id := range c.interpreterLocals {
		if _, ok := interpreterSlots[id]; !ok {
			interpreterSlots[id] = nextInterpSlot
			nextInterpSlot++
		}
	}

	// Event handlers and hooks can have multiple bodies; the final
	// interpreter frame size is the maximum across all of them.
	c.fn.noteRemappedFrameSize(nextInterpSlot)

	// Rewrite references to interpreter slots.
	for _, inst := range c.insts1 {
		if !inst.Live {
			continue
		}

		if inst.Op.IsLoad() && !inst.Op.IsGlobalLoad() || inst.Op.IsFrameStore() {
			if newSlot, ok := oldIntrpSlotToNew[inst.V2]; ok {
				inst.V2 = newSlot
			}
		}
	}
}
