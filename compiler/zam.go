package compiler

import (
	"fmt"

	"github.com/wkleinhenz/zeek/vm"
)

// ---------------------------------------------------------------------------
// ZAM: per-body compiler state
// ---------------------------------------------------------------------------

// CompiledStmt identifies the last instruction a lowering step emitted.
type CompiledStmt struct {
	stmtNum int
}

// InstLabel identifies a branch destination while the stream is still
// abstract; concretization turns labels into instruction indices.
type InstLabel = *vm.ZInst

// gotoSet collects pending patch sites of one structured construct.
type gotoSet []CompiledStmt

// globalInfo tracks one global used by the body.
type globalInfo struct {
	id   *ID
	slot int
}

// ZAM compiles one function body.  It owns the pre- and
// post-optimization instruction streams, the frame layout, the globals
// table, and the frame-sharing descriptors.
type ZAM struct {
	fn      *ScriptFunc
	scope   *Scope
	body    Stmt
	ud      UseDefs
	reducer Reducer
	pf      ProfileFunc
	rep     Reporter
	opts    *Options

	insts1  []*vm.ZInst
	insts2  []*vm.ZInst
	pending *vm.ZInst

	frameLayout1  map[*ID]int
	frameDenizens []*ID
	frameSize     int

	managedSlots     []int
	managedSlotTypes []*vm.Type

	globals         []globalInfo
	globalIDToInfo  map[*ID]int
	modifiedGlobals map[*ID]bool
	markDirty       int

	// Patch-site stacks for structured control flow.
	breaks       []gotoSet
	nexts        []gotoSet
	fallthroughs []gotoSet
	catches      []gotoSet
	retvars      []*NameExpr

	// Switch jump tables, holding labels until concretization.
	intCases    []map[int64]InstLabel
	uintCases   []map[uint64]InstLabel
	doubleCases []map[float64]InstLabel
	strCases    []map[string]InstLabel

	// Locals materialized into the interpreter frame for deferred
	// evaluation.
	interpreterLocals map[*ID]bool

	topMainInst  int
	errorSeen    bool
	internalSeen bool
	nonRecursive bool

	// Lifetime analysis and frame remapping state.
	denizenBeginning map[int]*vm.ZInst
	denizenEnding    map[int]*vm.ZInst
	instBeginnings   map[*vm.ZInst]map[*ID]bool
	instEndings      map[*vm.ZInst]map[*ID]bool

	sharedFrameDenizens []frameSharingInfo
	frame1ToFrame2      []int
	remappedGlobals     []int
}

// frameSharingInfo is the compiler-side cohort descriptor; identifiers
// stay as *ID until the final body is packaged.
type frameSharingInfo struct {
	ids       []*ID
	idStart   []int
	scopeEnd  int
	isManaged bool
}

// newZAM builds the per-body compiler.
func newZAM(fn *ScriptFunc, scope *Scope, body Stmt, ud UseDefs,
	rd Reducer, pf ProfileFunc, rep Reporter, opts *Options) *ZAM {

	c := &ZAM{
		fn:                fn,
		scope:             scope,
		body:              body,
		ud:                ud,
		reducer:           rd,
		pf:                pf,
		rep:               rep,
		opts:              opts,
		frameLayout1:      make(map[*ID]int),
		globalIDToInfo:    make(map[*ID]int),
		modifiedGlobals:   make(map[*ID]bool),
		markDirty:         -1,
		interpreterLocals: make(map[*ID]bool),
	}
	c.init()
	return c
}

// init populates the frame: globals first, then used parameters, then
// locals, classifying the managed-slot set at the end.
func (c *ZAM) init() {
	var uds UsageSet
	if c.ud.HasUsage(c.body) {
		uds = c.ud.GetUsage(c.body)
	}

	for _, g := range c.pf.Globals() {
		c.globalIDToInfo[g] = len(c.globals)
		c.globals = append(c.globals, globalInfo{id: g, slot: c.addToFrame(g)})
	}

	nparam := len(c.fn.Params)
	for _, a := range c.scope.OrderedVars() {
		if nparam--; nparam < 0 {
			break
		}
		if uds != nil && uds.HasID(a) {
			c.loadParam(a)
		}
	}

	// Assign slots for locals (which includes temporaries).
	for _, l := range c.pf.Locals() {
		if !c.hasFrameSlot(l) {
			c.addToFrame(l)
		}
	}

	// Complain about unused aggregates, except when inlining: that
	// can strand initializations whose original use was sound.
	if !c.opts.Inliner {
		locals := make(map[*ID]bool)
		for _, l := range c.pf.Locals() {
			locals[l] = true
		}
		for _, a := range c.pf.Inits() {
			if !locals[a] {
				c.rep.Warning("%s unused", a.Name)
			}
		}
	}

	for id, slot := range c.frameLayout1 {
		if vm.IsManagedType(id.T) {
			c.managedSlots = append(c.managedSlots, slot)
			c.managedSlotTypes = append(c.managedSlotTypes, id.T)
		}
	}

	c.nonRecursive = c.fn.NonRecursive
}

// ---------------------------------------------------------------------------
// Frame bookkeeping
// ---------------------------------------------------------------------------

func (c *ZAM) addToFrame(id *ID) int {
	c.frameLayout1[id] = c.frameSize
	c.frameDenizens = append(c.frameDenizens, id)
	c.frameSize++
	return c.frameSize - 1
}

func (c *ZAM) hasFrameSlot(id *ID) bool {
	_, ok := c.frameLayout1[id]
	return ok
}

func (c *ZAM) rawSlot(id *ID) int {
	slot, ok := c.frameLayout1[id]
	if !ok {
		c.internalError("ID %s missing from frame layout", id.Name)
		return 0
	}
	return slot
}

// op1Flavor describes how an instruction treats its first operand.
type op1Flavor int

const (
	op1Read op1Flavor = iota
	op1Write
	op1ReadWrite
	op1Internal
)

// frameSlot resolves a read reference, loading globals on first touch.
func (c *ZAM) frameSlot(n *NameExpr) int {
	return c.frameSlotID(n.ID)
}

func (c *ZAM) frameSlotID(id *ID) int {
	slot := c.rawSlot(id)
	if id.IsGlobal() {
		c.loadGlobal(id)
	}
	return slot
}

// frame1Slot resolves the first operand of an instruction, marking
// globals dirty on writes.
func (c *ZAM) frame1Slot(n *NameExpr, fl op1Flavor) int {
	return c.frame1SlotID(n.ID, fl)
}

func (c *ZAM) frame1SlotID(id *ID, fl op1Flavor) int {
	slot := c.rawSlot(id)

	switch fl {
	case op1Read:
		if id.IsGlobal() {
			c.loadGlobal(id)
		}
	case op1Write:
		if id.IsGlobal() {
			c.markDirty = c.globalIDToInfo[id]
			c.modifiedGlobals[id] = true
		}
	case op1ReadWrite:
		if id.IsGlobal() {
			c.loadGlobal(id)
			c.markDirty = c.globalIDToInfo[id]
			c.modifiedGlobals[id] = true
		}
	case op1Internal:
	}

	return slot
}

// newTempID allocates an internal register with a concrete type.
func (c *ZAM) newTempID(t *vm.Type) *ID {
	name := fmt.Sprintf("#internal-%d#", c.frameSize)
	reg := &ID{Name: name, T: t, Scope: ScopeLocal, Offset: -1}
	slot := c.addToFrame(reg)
	if vm.IsManagedType(t) {
		c.managedSlots = append(c.managedSlots, slot)
		c.managedSlotTypes = append(c.managedSlotTypes, t)
	}
	return reg
}

// newSlot allocates an internal register of the requested management
// class.
func (c *ZAM) newSlot(isManaged bool) int {
	name := fmt.Sprintf("#internal-%d#", c.frameSize)

	// All that matters is picking a tag of the right management class.
	t := vm.BaseType(vm.TagVoid)
	if isManaged {
		t = vm.TableType([]*vm.Type{vm.TypeAny}, vm.TypeAny)
	}

	reg := &ID{Name: name, T: t, Scope: ScopeLocal, Offset: -1}
	slot := c.addToFrame(reg)
	if isManaged {
		c.managedSlots = append(c.managedSlots, slot)
		c.managedSlotTypes = append(c.managedSlotTypes, t)
	}
	return slot
}

// ---------------------------------------------------------------------------
// Instruction emission
// ---------------------------------------------------------------------------

// addInst appends an instruction, emitting a trailing dirty-global
// marker when the preceding lowering wrote a global.
func (c *ZAM) addInst(z *vm.ZInst) CompiledStmt {
	var i *vm.ZInst
	if c.pending != nil {
		i = c.pending
		c.pending = nil
		*i = *z
	} else {
		i = z
	}

	c.insts1 = append(c.insts1, i)
	c.topMainInst = len(c.insts1) - 1

	if c.markDirty < 0 {
		return CompiledStmt{c.topMainInst}
	}

	dirtySlot := c.markDirty
	c.markDirty = -1

	dirty := vm.NewInst(vm.OpDirtyGlobalV, dirtySlot)
	return c.addInst(dirty)
}

// topMain returns the most recent main (non-dirty-marker) instruction.
func (c *ZAM) topMain() *vm.ZInst {
	return c.insts1[c.topMainInst]
}

func (c *ZAM) lastInst() CompiledStmt  { return CompiledStmt{len(c.insts1) - 1} }
func (c *ZAM) emptyStmt() CompiledStmt { return CompiledStmt{len(c.insts1) - 1} }

func (c *ZAM) startingBlock() CompiledStmt {
	return CompiledStmt{len(c.insts1)}
}

func (c *ZAM) errorStmt() CompiledStmt {
	c.errorSeen = true
	return CompiledStmt{0}
}

// errorf reports a source-level compile error; compilation of this
// body will be abandoned.
func (c *ZAM) errorf(format string, args ...any) {
	c.rep.Error(format, args...)
	c.errorSeen = true
}

// internalError reports a compiler inconsistency.
func (c *ZAM) internalError(format string, args ...any) {
	c.rep.InternalError(format, args...)
	c.errorSeen = true
	c.internalSeen = true
}

// isUnused reports whether an identifier's value is dead at a
// statement.
func (c *ZAM) isUnused(id *ID, where Stmt) bool {
	if !c.ud.HasUsage(where) {
		return true
	}
	return !c.ud.GetUsage(where).HasID(id)
}

// ---------------------------------------------------------------------------
// Branch patching
// ---------------------------------------------------------------------------

func (c *ZAM) goToStub() CompiledStmt {
	return c.addInst(vm.NewInst(vm.OpGotoV, 0))
}

func (c *ZAM) goTo(l InstLabel) CompiledStmt {
	z := vm.NewInst(vm.OpGotoV, 0)
	z.Target = l
	z.TargetSlot = 1
	return c.addInst(z)
}

func (c *ZAM) goToTarget(s CompiledStmt) InstLabel {
	return c.insts1[s.stmtNum]
}

func (c *ZAM) goToTargetBeyond(s CompiledStmt) InstLabel {
	n := s.stmtNum
	if n == len(c.insts1)-1 {
		if c.pending == nil {
			c.pending = &vm.ZInst{Op: vm.OpNop, Live: true}
		}
		return c.pending
	}
	return c.insts1[n+1]
}

func (c *ZAM) setTarget(z *vm.ZInst, l InstLabel, slot int) {
	if z.Target != nil {
		z.Target2 = l
		z.Target2Slot = slot
	} else {
		z.Target = l
		z.TargetSlot = slot
	}
}

func (c *ZAM) setGoTo(s CompiledStmt, l InstLabel) {
	c.setV1(s, l)
}

func (c *ZAM) setV(s CompiledStmt, l InstLabel, slot int) {
	switch slot {
	case 1:
		c.setV1(s, l)
	case 2:
		c.setV2(s, l)
	case 3:
		c.setV3(s, l)
	case 4:
		c.setV4(s, l)
	default:
		c.internalError("bad branch operand slot")
	}
}

func (c *ZAM) setV1(s CompiledStmt, l InstLabel) {
	z := c.insts1[s.stmtNum]
	c.setTarget(z, l, 1)
}

func (c *ZAM) setV2(s CompiledStmt, l InstLabel) {
	z := c.insts1[s.stmtNum]
	c.setTarget(z, l, 2)
}

func (c *ZAM) setV3(s CompiledStmt, l InstLabel) {
	z := c.insts1[s.stmtNum]
	c.setTarget(z, l, 3)
}

func (c *ZAM) setV4(s CompiledStmt, l InstLabel) {
	z := c.insts1[s.stmtNum]
	c.setTarget(z, l, 4)
}

// Per-construct patch-site stacks.

func pushGoTos(sets *[]gotoSet)  { *sets = append(*sets, nil) }
func (c *ZAM) pushBreaks()       { pushGoTos(&c.breaks) }
func (c *ZAM) pushNexts()        { pushGoTos(&c.nexts) }
func (c *ZAM) pushFallThroughs() { pushGoTos(&c.fallthroughs) }
func (c *ZAM) pushCatchReturns() { pushGoTos(&c.catches) }

func (c *ZAM) genGoTo(sets *[]gotoSet) CompiledStmt {
	g := c.goToStub()
	top := len(*sets) - 1
	(*sets)[top] = append((*sets)[top], g)
	return g
}

func (c *ZAM) resolveGoTos(sets *[]gotoSet, l InstLabel) {
	top := len(*sets) - 1
	for _, g := range (*sets)[top] {
		c.setGoTo(g, l)
	}
	*sets = (*sets)[:top]
}

func (c *ZAM) resolveNexts(l InstLabel)        { c.resolveGoTos(&c.nexts, l) }
func (c *ZAM) resolveBreaks(l InstLabel)       { c.resolveGoTos(&c.breaks, l) }
func (c *ZAM) resolveFallThroughs(l InstLabel) { c.resolveGoTos(&c.fallthroughs, l) }
func (c *ZAM) resolveCatchReturns(l InstLabel) { c.resolveGoTos(&c.catches, l) }

// ---------------------------------------------------------------------------
// Loads and stores
// ---------------------------------------------------------------------------

// loadParam brings a parameter from the interpreter frame into its ZAM
// slot.
func (c *ZAM) loadParam(id *ID) CompiledStmt {
	return c.loadOrStoreLocal(id, true, true)
}

// storeLocal materializes a local back into the interpreter frame for
// deferred (interpreted) evaluation.
func (c *ZAM) storeLocal(id *ID) CompiledStmt {
	return c.loadOrStoreLocal(id, false, false)
}

func (c *ZAM) loadOrStoreLocal(id *ID, isLoad, add bool) CompiledStmt {
	if !isLoad {
		c.interpreterLocals[id] = true
	}

	var op vm.Op
	if isLoad {
		var err error
		op, err = vm.AssignmentFlavor(vm.OpLoadValVV, id.T.Tag)
		if err != nil {
			c.internalError("%v", err)
			return c.errorStmt()
		}
	} else if vm.IsAny(id.T) {
		op = vm.OpStoreAnyValVV
	} else {
		op = vm.OpStoreValVV
	}

	var slot int
	if isLoad && add {
		slot = c.addToFrameIfNew(id)
	} else {
		slot = c.rawSlot(id)
	}

	z := vm.NewInst(op, slot, id.Offset)
	z.SetType(id.T)
	return c.addInst(z)
}

func (c *ZAM) addToFrameIfNew(id *ID) int {
	if c.hasFrameSlot(id) {
		return c.frameLayout1[id]
	}
	return c.addToFrame(id)
}

// loadGlobal emits a first-touch load of a global into its slot.
func (c *ZAM) loadGlobal(id *ID) CompiledStmt {
	op, err := vm.AssignmentFlavor(vm.OpLoadGlobalVi, id.T.Tag)
	if err != nil {
		c.internalError("%v", err)
		return c.errorStmt()
	}

	z := vm.NewInst(op, c.rawSlot(id), c.globalIDToInfo[id])
	z.SetType(id.T)
	return c.addInst(z)
}

// syncGlobals emits a sync point if any global could be dirty here.
func (c *ZAM) syncGlobals() {
	if len(c.modifiedGlobals) > 0 {
		c.addInst(vm.NewInst(vm.OpSyncGlobalsX))
	}
}

// flushVars materializes an expression's globals and locals before
// deferred evaluation.
func (c *ZAM) flushVars(globals, locals []*ID) {
	c.syncGlobals()
	for _, l := range locals {
		c.storeLocal(l)
	}
}
