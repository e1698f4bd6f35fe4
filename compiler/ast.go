// Package compiler lowers reduced script ASTs into ZAM instruction
// streams, optimizes them, and packages them for the register VM.
package compiler

import (
	"github.com/wkleinhenz/zeek/vm"
)

// ---------------------------------------------------------------------------
// Identifiers, scopes, functions
// ---------------------------------------------------------------------------

// ScopeKind classifies where an identifier lives.
type ScopeKind int

const (
	ScopeLocal ScopeKind = iota
	ScopeParam
	ScopeGlobal
)

// ID is a source variable: name, type, scope, and its offset in the
// interpreter's variable frame.
type ID struct {
	Name   string
	T      *vm.Type
	Scope  ScopeKind
	Offset int

	// Global is the process-wide variable backing a global ID.
	Global *vm.GlobalVar
}

func (id *ID) IsGlobal() bool { return id.Scope == ScopeGlobal }

// SetOffset updates the interpreter-frame offset; frame remapping uses
// this to move cohorts onto shared interpreter slots.
func (id *ID) SetOffset(o int) { id.Offset = o }

// Scope is the ordered variable list of a function body.
type Scope struct {
	Vars []*ID
}

// OrderedVars returns the variables in declaration order; parameters
// come first, matching the interpreter's calling convention.
func (s *Scope) OrderedVars() []*ID { return s.Vars }

// FuncFlavor distinguishes functions, event handlers, and hooks.
type FuncFlavor int

const (
	FlavorFunction FuncFlavor = iota
	FlavorEvent
	FlavorHook
)

// ScriptFunc is the function a body belongs to.  Event handlers and
// hooks may have several bodies; the interpreter frame size is
// finalized across all of them after compilation.
type ScriptFunc struct {
	FName   string
	Flavor  FuncFlavor
	Params  []*ID
	RetType *vm.Type

	// NonRecursive marks functions a whole-program analysis proved
	// non-recursive; their compiled bodies reuse a fixed frame.
	NonRecursive bool

	frameSize         int
	remappedFrameSize int
	didRemap          bool
}

// FrameSize returns the interpreter frame size.
func (f *ScriptFunc) FrameSize() int { return f.frameSize }

// SetFrameSize sets the interpreter frame size.
func (f *ScriptFunc) SetFrameSize(n int) { f.frameSize = n }

func (f *ScriptFunc) noteRemappedFrameSize(n int) {
	if !f.didRemap || n > f.remappedFrameSize {
		f.remappedFrameSize = n
	}
	f.didRemap = true
}

// ---------------------------------------------------------------------------
// Expressions (reduced, three-address form)
// ---------------------------------------------------------------------------

// Expr is a node of the reduced AST.  The front end's reducer has
// already flattened nested expressions, so operands are names or
// constants wherever the lowering below expects them.
type Expr interface {
	Type() *vm.Type
}

// NameExpr references a variable.
type NameExpr struct {
	ID *ID
}

func (e *NameExpr) Type() *vm.Type { return e.ID.T }

// ConstExpr is a literal constant.
type ConstExpr struct {
	V vm.Val
}

func (e *ConstExpr) Type() *vm.Type { return e.V.T }

// BinOp enumerates binary operators surviving reduction.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpCat
)

// BinaryExpr applies a binary operator to two reduced operands.
type BinaryExpr struct {
	Op     BinOp
	N1, N2 Expr
	T      *vm.Type
}

func (e *BinaryExpr) Type() *vm.Type { return e.T }

// NegExpr is arithmetic negation.
type NegExpr struct {
	Op Expr
}

func (e *NegExpr) Type() *vm.Type { return e.Op.Type() }

// NotExpr is boolean negation.
type NotExpr struct {
	Op Expr
}

func (e *NotExpr) Type() *vm.Type { return vm.TypeBool }

// InExpr tests membership: pattern in string, string in string, addr
// in subnet, value(s) in table, index in vector.
type InExpr struct {
	Op1 Expr // single operand or a ListExpr of indices
	Op2 Expr
}

func (e *InExpr) Type() *vm.Type { return vm.TypeBool }

// HasFieldExpr tests record field presence.
type HasFieldExpr struct {
	Op    *NameExpr
	Field int
}

func (e *HasFieldExpr) Type() *vm.Type { return vm.TypeBool }

// FieldExpr reads a record field.
type FieldExpr struct {
	Rec   *NameExpr
	Field int
}

func (e *FieldExpr) Type() *vm.Type { return e.Rec.Type().Fields[e.Field].T }

// IndexExpr indexes an aggregate.
type IndexExpr struct {
	Agg     *NameExpr
	Indices *ListExpr
	T       *vm.Type
}

func (e *IndexExpr) Type() *vm.Type { return e.T }

// AssignExpr assigns a reduced expression to a variable.
type AssignExpr struct {
	LHS *NameExpr
	RHS Expr
}

func (e *AssignExpr) Type() *vm.Type { return e.LHS.Type() }

// IndexAssignExpr assigns into an aggregate element.
type IndexAssignExpr struct {
	Op1 *NameExpr // the aggregate
	Op2 *ListExpr // indices
	Op3 Expr      // the value
}

func (e *IndexAssignExpr) Type() *vm.Type { return e.Op3.Type() }

// FieldAssignExpr assigns into a record field.
type FieldAssignExpr struct {
	Rec   *NameExpr
	Field int
	RHS   Expr
}

func (e *FieldAssignExpr) Type() *vm.Type { return e.RHS.Type() }

// CallExpr invokes a function.
type CallExpr struct {
	Func Expr // NameExpr; non-global callee means an indirect call
	Args *ListExpr
	T    *vm.Type
}

func (e *CallExpr) Type() *vm.Type { return e.T }

// ListExpr groups expressions: call arguments, constructor elements,
// index lists.
type ListExpr struct {
	Exprs []Expr
}

func (e *ListExpr) Type() *vm.Type { return &vm.Type{Tag: vm.TagList} }

// CtorKind selects the aggregate a constructor builds.
type CtorKind int

const (
	CtorTable CtorKind = iota
	CtorSet
	CtorRecord
	CtorVector
)

// ConstructorExpr builds an aggregate from an element list.  Table
// elements are AssignExpr-shaped pairs ({keys} = val) carried as
// IndexAssignExpr-free lists: each table element is a ListExpr of the
// index expressions followed by the value.
type ConstructorExpr struct {
	Kind  CtorKind
	Elems *ListExpr
	T     *vm.Type
}

func (e *ConstructorExpr) Type() *vm.Type { return e.T }

// CoerceKind selects a coercion family.
type CoerceKind int

const (
	CoerceArith CoerceKind = iota
	CoerceRecord
	CoerceTable
	CoerceVector
	CoerceAny
)

// CoerceExpr converts a reduced operand to the target type.  Record
// coercions carry the field map: Map[i] is the source field feeding
// target field i, or -1.
type CoerceExpr struct {
	Kind CoerceKind
	Op   Expr
	T    *vm.Type
	Map  []int
}

func (e *CoerceExpr) Type() *vm.Type { return e.T }

// IsExpr is a dynamic type test.
type IsExpr struct {
	Op       Expr
	TestType *vm.Type
}

func (e *IsExpr) Type() *vm.Type { return vm.TypeBool }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Stmt is a reduced statement.
type Stmt interface {
	isStmt()
}

type stmtMarker struct{}

func (stmtMarker) isStmt() {}

// StmtList is a statement sequence.
type StmtList struct {
	stmtMarker
	Stmts []Stmt
}

// NullStmt is an empty statement.
type NullStmt struct{ stmtMarker }

// ExprStmt evaluates an expression for effect.
type ExprStmt struct {
	stmtMarker
	E Expr
}

// IfStmt is a conditional with optional branches.
type IfStmt struct {
	stmtMarker
	Cond   Expr
	S1, S2 Stmt
}

// WhileStmt loops while the condition holds; CondStmt re-evaluates
// reduced condition temporaries at the head of every iteration.
type WhileStmt struct {
	stmtMarker
	CondStmt Stmt
	Cond     Expr
	Body     Stmt
}

// LoopStmt loops forever (exited via break).
type LoopStmt struct {
	stmtMarker
	Body Stmt
}

// ForStmt iterates over a table, vector, or string.
type ForStmt struct {
	stmtMarker
	LoopVars []*ID
	ValueVar *ID
	LoopExpr *NameExpr
	Body     Stmt
}

// SwitchCase is one case of a switch: literal values for value
// switches, or a type (with an optional binding ID) for type switches.
type SwitchCase struct {
	Vals   []vm.Val
	TypeID *ID
	Body   Stmt
}

// SwitchStmt dispatches over case values or types.
type SwitchStmt struct {
	stmtMarker
	E          Expr
	Cases      []*SwitchCase
	DefaultIdx int // -1 if no default
	TypeCases  bool
}

// ReturnStmt returns from the function, optionally with a value.
type ReturnStmt struct {
	stmtMarker
	E Expr
}

// CatchReturnStmt wraps an inlined function body; returns inside it
// resolve to the end of the block, assigning to RetVar if present.
type CatchReturnStmt struct {
	stmtMarker
	Block  Stmt
	RetVar *NameExpr
}

// BreakStmt exits the enclosing loop or switch (or hook).
type BreakStmt struct{ stmtMarker }

// NextStmt continues the enclosing loop.
type NextStmt struct{ stmtMarker }

// FallthroughStmt falls into the next switch case.
type FallthroughStmt struct{ stmtMarker }

// InitStmt initializes a local aggregate to an empty value.
type InitStmt struct {
	stmtMarker
	ID *ID
}

// WhenStmt defers a condition to the host's trigger mechanism.
// FlushLocals lists the locals the condition references; they are
// materialized into the interpreter frame before the defer.
type WhenStmt struct {
	stmtMarker
	Cond        Expr
	Body        Stmt
	Timeout     Expr
	TimeoutBody Stmt
	IsReturn    bool
	FlushLocals []*ID
}

// ScheduleStmt schedules an event for later delivery.
type ScheduleStmt struct {
	stmtMarker
	When       Expr
	IsInterval bool
	Handler    vm.EventHandler
	Args       *ListExpr
}

// EventStmt generates an event immediately.
type EventStmt struct {
	stmtMarker
	Handler vm.EventHandler
	Args    *ListExpr
}

// ---------------------------------------------------------------------------
// Collaborator interfaces
// ---------------------------------------------------------------------------

// Reducer is the front-end pass that produced the three-address form.
// The lifetime analysis needs to know which identifiers are compiler
// temporaries, since temporaries never propagate around loop
// back-edges implicitly.
type Reducer interface {
	IsTemporary(id *ID) bool
}

// UsageSet reports which identifiers a statement's live-in set holds.
type UsageSet interface {
	HasID(id *ID) bool
}

// UseDefs supplies per-statement usage information.
type UseDefs interface {
	HasUsage(s Stmt) bool
	GetUsage(s Stmt) UsageSet
}

// ProfileFunc enumerates a body's globals, locals, and initialized
// aggregates, in deterministic order.
type ProfileFunc interface {
	Globals() []*ID
	Locals() []*ID
	Inits() []*ID
}
