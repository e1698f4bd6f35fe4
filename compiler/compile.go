package compiler

import (
	"fmt"

	"github.com/wkleinhenz/zeek/vm"
)

// ---------------------------------------------------------------------------
// Public entry points
// ---------------------------------------------------------------------------

// Compile lowers one function body into an optimized, concretized
// instruction stream.  Source-level errors abandon this body (and are
// reported) without stopping compilation of others.
func Compile(fn *ScriptFunc, scope *Scope, body Stmt, ud UseDefs,
	rd Reducer, pf ProfileFunc, opts *Options, rep Reporter) (*vm.CompiledBody, error) {

	if opts == nil {
		opts = DefaultOptions()
	}
	if rep == nil {
		rep = NewLogReporter()
	}

	c := newZAM(fn, scope, body, ud, rd, pf, rep, opts)
	return c.compileBody()
}

// FinalizeFunctions runs after every body has been compiled: each
// function's interpreter frame size becomes the maximum remapped size
// across all of its bodies.
func FinalizeFunctions(funcs []*ScriptFunc) {
	for _, f := range funcs {
		if f.didRemap {
			f.SetFrameSize(f.remappedFrameSize)
		}
	}
}

// ---------------------------------------------------------------------------
// Body compilation
// ---------------------------------------------------------------------------

func (c *ZAM) compileBody() (*vm.CompiledBody, error) {
	if c.fn.Flavor == FlavorHook {
		c.pushBreaks()
	}

	c.compileStmt(c.body)

	if !endsInReturn(c.body) {
		c.syncGlobals()
	}

	if len(c.breaks) > 0 {
		if c.fn.Flavor == FlavorHook {
			// Rewrite top-level breaks into hook breaks.
			for _, b := range c.breaks[0] {
				i := c.insts1[b.stmtNum]
				*i = vm.ZInst{Op: vm.OpHookBreakX,
					OpType: vm.OpHookBreakX.DefaultOpType(), Live: true}
			}
			c.breaks = nil
		} else {
			c.errorf("\"break\" used without an enclosing \"for\" or \"switch\"")
		}
	}

	if len(c.nexts) > 0 {
		c.errorf("\"next\" used without an enclosing \"for\"")
	}
	if len(c.fallthroughs) > 0 {
		c.errorf("\"fallthrough\" used without an enclosing \"switch\"")
	}
	if len(c.catches) > 0 {
		c.internalError("untargeted inline return")
	}

	// Make sure there's a (pseudo-)instruction at the end usable as a
	// branch label.
	if c.pending == nil {
		c.pending = &vm.ZInst{Op: vm.OpNop, Live: true}
	}

	// Concretize instruction numbers so we can move through the code.
	for i, inst := range c.insts1 {
		inst.InstNum = i
	}

	c.computeLoopDepths()

	if !c.opts.NoOpt {
		c.optimizeInsts()
	}

	// Move branches into dead code forward to their successor live
	// code.
	for _, inst := range c.insts1 {
		if !inst.Live || inst.Target == nil {
			continue
		}

		inst.Target = c.findLiveTarget(inst.Target)

		if inst.Target2 != nil {
			inst.Target2 = c.findLiveTarget(inst.Target2)
		}
	}

	// Resolve switch-table targets the same way, while insts1
	// numbering is still in effect.
	for _, m := range c.intCases {
		for k, t := range m {
			m[k] = c.findLiveTarget(t)
		}
	}
	for _, m := range c.uintCases {
		for k, t := range m {
			m[k] = c.findLiveTarget(t)
		}
	}
	for _, m := range c.doubleCases {
		for k, t := range m {
			m[k] = c.findLiveTarget(t)
		}
	}
	for _, m := range c.strCases {
		for k, t := range m {
			m[k] = c.findLiveTarget(t)
		}
	}

	// Construct the final program with dead code eliminated and
	// branches resolved.
	c.pending.Live = false

	inst1ToInst2 := make([]int, len(c.insts1))
	for i, inst := range c.insts1 {
		if inst.Live {
			inst1ToInst2[i] = len(c.insts2)
			c.insts2 = append(c.insts2, inst)
		} else {
			inst1ToInst2[i] = -1
		}
	}

	// Re-concretize instruction numbers, then concretize branches.
	for i, inst := range c.insts2 {
		inst.InstNum = i
	}

	for _, inst := range c.insts2 {
		if inst.Target != nil {
			c.retargetBranch(inst, inst.Target, inst.TargetSlot)

			if inst.Target2 != nil {
				c.retargetBranch(inst, inst.Target2, inst.Target2Slot)
			}
		}
	}

	if c.errorSeen {
		return nil, fmt.Errorf("%s: compilation failed", c.fn.FName)
	}

	body := &vm.CompiledBody{
		FuncName:     c.fn.FName,
		Insts:        c.insts2,
		FrameSize:    c.frameSize,
		ManagedSlots: append([]int(nil), c.managedSlots...),
		Insts1:       c.insts1,
	}

	for _, g := range c.globals {
		body.Globals = append(body.Globals,
			vm.GlobalInfo{Var: g.id.Global, Slot: g.slot})
	}

	// Final switch tables, with branch targets as insts2 indices.
	finalIdx := func(t *vm.ZInst) int {
		if t == c.pending {
			return len(c.insts2)
		}
		return t.InstNum
	}
	for _, m := range c.intCases {
		fm := make(map[int64]int, len(m))
		for k, t := range m {
			fm[k] = finalIdx(t)
		}
		body.IntCases = append(body.IntCases, fm)
	}
	for _, m := range c.uintCases {
		fm := make(map[uint64]int, len(m))
		for k, t := range m {
			fm[k] = finalIdx(t)
		}
		body.UintCases = append(body.UintCases, fm)
	}
	for _, m := range c.doubleCases {
		fm := make(map[float64]int, len(m))
		for k, t := range m {
			fm[k] = finalIdx(t)
		}
		body.DoubleCases = append(body.DoubleCases, fm)
	}
	for _, m := range c.strCases {
		fm := make(map[string]int, len(m))
		for k, t := range m {
			fm[k] = finalIdx(t)
		}
		body.StrCases = append(body.StrCases, fm)
	}

	// Debug retention: the original frame and the shared cohorts.
	for _, id := range c.frameDenizens {
		body.FrameDenizens = append(body.FrameDenizens, id.Name)
	}
	for _, sf := range c.sharedFrameDenizens {
		info := vm.FrameSharingInfo{
			ScopeEnd:  sf.scopeEnd,
			IsManaged: sf.isManaged,
		}
		for _, id := range sf.ids {
			info.IDs = append(info.IDs, id.Name)
		}
		for _, start := range sf.idStart {
			info.IDStart = append(info.IDStart, inst1ToInst2[start])
		}
		body.SharedFrame = append(body.SharedFrame, info)
	}

	if c.nonRecursive {
		body.UseFixedFrame()
	}

	return body, nil
}

// computeLoopDepths marks which instructions sit inside backward-
// branching regions, and how deeply.
func (c *ZAM) computeLoopDepths() {
	for i, inst := range c.insts1 {
		t := inst.Target
		if t == nil || t == c.pending {
			continue
		}

		if t.InstNum < i {
			j := t.InstNum

			if !t.LoopStart {
				// Newly discovered loop.
				t.LoopStart = true
			} else {
				// Extending an existing loop: find its current end.
				depth := t.LoopDepth
				for j < i && c.insts1[j].LoopDepth == depth {
					j++
				}
			}

			// Run from j's current position to i, bumping the depth.
			for j <= i {
				c.insts1[j].LoopDepth++
				j++
			}
		}
	}
}

func endsInReturn(body Stmt) bool {
	switch s := body.(type) {
	case *ReturnStmt:
		return true
	case *StmtList:
		if len(s.Stmts) == 0 {
			return false
		}
		return endsInReturn(s.Stmts[len(s.Stmts)-1])
	default:
		return false
	}
}
