package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode table consistency
// ---------------------------------------------------------------------------

func TestOpTableComplete(t *testing.T) {
	for op := Op(0); op < Op(NumOps()); op++ {
		d, ok := opTable[op]
		if !ok {
			t.Errorf("opcode %d has no descriptor", int(op))
			continue
		}
		if d.name == "" {
			t.Errorf("opcode %d has an empty mnemonic", int(op))
		}
		if _, ok := opTypeTable[d.ot]; !ok {
			t.Errorf("%s: unknown operand form", d.name)
		}
	}
}

func TestMnemonicRoundTrip(t *testing.T) {
	seen := make(map[string]Op)

	for op := Op(0); op < Op(NumOps()); op++ {
		name := op.Name()

		if prev, dup := seen[name]; dup {
			t.Errorf("mnemonic %q assigned to both %d and %d",
				name, int(prev), int(op))
		}
		seen[name] = op

		back, ok := OpByName(name)
		if !ok {
			t.Errorf("OpByName(%q) not found", name)
		} else if back != op {
			t.Errorf("OpByName(%q) = %d, want %d", name, int(back), int(op))
		}
	}
}

func TestOpPredicates(t *testing.T) {
	tests := []struct {
		op      Op
		stops   bool
		uncond  bool
		assigns bool
		sideFx  bool
	}{
		{OpNop, false, false, false, false},
		{OpGotoV, true, true, false, false},
		{OpReturnX, true, false, false, true},
		{OpReturnV, true, false, false, true},
		{OpHookBreakX, true, false, false, true},
		{OpAssignVV, false, false, true, false},
		{OpAddCountVVC, false, false, true, false},
		{OpCall2Vc, false, false, true, true},
		{OpLogWriteVV, false, false, false, true},
		{OpIfVV, false, false, false, false},
	}

	for _, tt := range tests {
		if got := tt.op.DoesNotContinue(); got != tt.stops {
			t.Errorf("%s: DoesNotContinue = %v, want %v", tt.op, got, tt.stops)
		}
		if got := tt.op.IsUnconditionalBranch(); got != tt.uncond {
			t.Errorf("%s: IsUnconditionalBranch = %v, want %v", tt.op, got, tt.uncond)
		}
		if got := tt.op.AssignsToSlot1(); got != tt.assigns {
			t.Errorf("%s: AssignsToSlot1 = %v, want %v", tt.op, got, tt.assigns)
		}
		if got := tt.op.HasSideEffects(); got != tt.sideFx {
			t.Errorf("%s: HasSideEffects = %v, want %v", tt.op, got, tt.sideFx)
		}
	}
}

// ---------------------------------------------------------------------------
// Assignment flavors
// ---------------------------------------------------------------------------

func TestAssignmentFlavorNormalization(t *testing.T) {
	tests := []struct {
		tag  TypeTag
		want Op
	}{
		{TagInt, OpAssignVV},
		{TagBool, OpAssignVV},     // bool -> int
		{TagEnum, OpAssignVV},     // enum -> int
		{TagCounter, OpAssignVV},  // counter -> count
		{TagPort, OpAssignVV},     // port -> count
		{TagTime, OpAssignVV},     // time -> double
		{TagInterval, OpAssignVV}, // interval -> double
		{TagString, OpAssignManagedVV},
		{TagPattern, OpAssignManagedVV},
		{TagTable, OpAssignManagedVV},
		{TagVector, OpAssignManagedVV},
		{TagAny, OpAssignManagedVV},
	}

	for _, tt := range tests {
		got, err := AssignmentFlavor(OpAssignVV, tt.tag)
		if err != nil {
			t.Errorf("AssignmentFlavor(assign, %s): %v", tt.tag, err)
			continue
		}
		if got != tt.want {
			t.Errorf("AssignmentFlavor(assign, %s) = %s, want %s",
				tt.tag, got, tt.want)
		}
	}
}

func TestAssignmentFlavorMissing(t *testing.T) {
	if _, err := AssignmentFlavor(OpNop, TagInt); err == nil {
		t.Errorf("expected error for opcode with no flavors")
	}
	if _, err := AssignmentFlavor(OpAssignVV, TagVoid); err == nil {
		t.Errorf("expected error for unmapped type tag")
	}
}

func TestAssignmentlessCounterparts(t *testing.T) {
	tests := []struct {
		op     Op
		want   Op
		wantOT OpType
	}{
		{OpCall0V, OpCall0X, OTX},
		{OpCall1VV, OpCall1V, OTV},
		{OpCall1ManagedVC, OpCall1C, OTC},
		{OpCall3Vc, OpCall3c, OTc},
		{OpCallNManagedVc, OpCallNc, OTc},
		{OpIndCallNVVc, OpIndCallNVc, OTVc},
	}

	for _, tt := range tests {
		got, ot, ok := AssignmentlessOp(tt.op)
		if !ok {
			t.Errorf("AssignmentlessOp(%s): missing", tt.op)
			continue
		}
		if got != tt.want || ot != tt.wantOT {
			t.Errorf("AssignmentlessOp(%s) = %s/%v, want %s/%v",
				tt.op, got, ot, tt.want, tt.wantOT)
		}
	}

	if _, _, ok := AssignmentlessOp(OpAddIntVVV); ok {
		t.Errorf("pure assignment should have no assignmentless form")
	}
}

// ---------------------------------------------------------------------------
// Instruction operand analysis
// ---------------------------------------------------------------------------

func TestUsesSlots(t *testing.T) {
	// add v1 = v2 + v3: uses v2 and v3, not the destination.
	z := NewInst(OpAddCountVVV, 0, 1, 2)
	s1, s2, _, _, any := z.UsesSlots()
	if !any || s1 != 1 || s2 != 2 {
		t.Errorf("add uses = %d,%d (any=%v), want 1,2", s1, s2, any)
	}

	// A conditional branch reads v1; v2 is the target immediate.
	z = NewInst(OpIfVV, 3, 99)
	s1, s2, _, _, any = z.UsesSlots()
	if !any || s1 != 3 || s2 != -1 {
		t.Errorf("if uses = %d,%d (any=%v), want 3,-1", s1, s2, any)
	}

	// A global load's v2 indexes the globals table, not the frame.
	z = NewInst(OpLoadGlobalVi, 0, 5)
	if _, _, _, _, any := z.UsesSlots(); any {
		t.Errorf("global load should use no frame slots")
	}

	if !NewInst(OpReturnV, 4).UsesSlot(4) {
		t.Errorf("return should use its value slot")
	}
}

func TestUpdateSlots(t *testing.T) {
	remap := []int{9, 8, 7, 6, 5}

	z := NewInst(OpAddCountVVV, 0, 1, 2)
	z.V1 = remap[z.V1] // the caller remaps the destination
	z.UpdateSlots(remap)

	if z.V1 != 9 || z.V2 != 8 || z.V3 != 7 {
		t.Errorf("remapped operands = %d,%d,%d, want 9,8,7", z.V1, z.V2, z.V3)
	}

	// Immediates stay put.
	z = NewInst(OpIfVV, 1, 3)
	z.UpdateSlots(remap)
	if z.V1 != 8 || z.V2 != 3 {
		t.Errorf("branch operands = %d,%d, want 8,3", z.V1, z.V2)
	}
}

func TestInstDumpLeadsWithMnemonic(t *testing.T) {
	z := NewInst(OpAddCountVVC, 0, 1)
	s := z.Dump()

	var tok string
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			tok = s[:i]
			break
		}
	}
	if tok == "" {
		tok = s
	}

	op, ok := OpByName(tok)
	if !ok || op != OpAddCountVVC {
		t.Errorf("dump %q does not round-trip its mnemonic", s)
	}
}
