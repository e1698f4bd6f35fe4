package vm

import "fmt"

// ---------------------------------------------------------------------------
// Operand forms
// ---------------------------------------------------------------------------

// OpType encodes an instruction's operand layout: which of v1..v4 hold
// frame slots, which hold literal immediates (branch offsets, field
// numbers, widths), whether the embedded constant is used, and whether
// the instruction consumes the aux block.
type OpType int

const (
	OTX OpType = iota // no operands
	OTC               // embedded constant only
	OTc               // aux block only
	OTV
	OTVI1
	OTVC
	OTVCI1
	OTVc
	OTVV
	OTVVI2
	OTVVI1I2
	OTVVFrame // v2 is an interpreter-frame offset
	OTViCID   // v2 indexes the globals table
	OTVVc
	OTVVC
	OTVVCI2
	OTVVV
	OTVVVI3
	OTVVVI2
	OTVVVI2I3
	OTVVVV
	OTVVVVI4
	OTVVVVI3I4
	OTVVVVI2I3I4
	OTVVVC
	OTVVVCI3
	OTVVVCI2I3
	OTVVVCI1I2I3
)

// otInfo describes an operand form: how many integer operands are
// populated and which of them are immediates rather than frame slots.
type otInfo struct {
	n   int     // integer operands in use
	imm [4]bool // operand is a literal immediate, not a slot
}

var opTypeTable = map[OpType]otInfo{
	OTX:          {0, [4]bool{}},
	OTC:          {0, [4]bool{}},
	OTc:          {0, [4]bool{}},
	OTV:          {1, [4]bool{}},
	OTVI1:        {1, [4]bool{true}},
	OTVC:         {1, [4]bool{}},
	OTVCI1:       {1, [4]bool{true}},
	OTVc:         {1, [4]bool{}},
	OTVV:         {2, [4]bool{}},
	OTVVI2:       {2, [4]bool{false, true}},
	OTVVI1I2:     {2, [4]bool{true, true}},
	OTVVFrame:    {2, [4]bool{false, true}},
	OTViCID:      {2, [4]bool{false, true}},
	OTVVc:        {2, [4]bool{}},
	OTVVC:        {2, [4]bool{}},
	OTVVCI2:      {2, [4]bool{false, true}},
	OTVVV:        {3, [4]bool{}},
	OTVVVI3:      {3, [4]bool{false, false, true}},
	OTVVVI2:      {3, [4]bool{false, true}},
	OTVVVI2I3:    {3, [4]bool{false, true, true}},
	OTVVVV:       {4, [4]bool{}},
	OTVVVVI4:     {4, [4]bool{false, false, false, true}},
	OTVVVVI3I4:   {4, [4]bool{false, false, true, true}},
	OTVVVVI2I3I4: {4, [4]bool{false, true, true, true}},
	OTVVVC:       {3, [4]bool{}},
	OTVVVCI3:     {3, [4]bool{false, false, true}},
	OTVVVCI2I3:   {3, [4]bool{false, true, true}},
	OTVVVCI1I2I3: {3, [4]bool{true, true, true}},
}

// Info returns the operand-form descriptor.
func (ot OpType) Info() otInfo { return opTypeTable[ot] }

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

// Op enumerates the ZAM instruction set.
type Op int

const (
	OpNop Op = iota

	// Pseudo-ops and control.
	OpGotoV
	OpSyncGlobalsX
	OpDirtyGlobalV
	OpHookBreakX
	OpReturnX
	OpReturnV
	OpReturnC

	// Conditional branches.  The branch is taken when the condition
	// does NOT select the fall-through body.
	OpIfVV
	OpIfNotVV
	OpIfElseVV
	OpHasFieldCondVVV
	OpNotHasFieldCondVVV
	OpValIsInTableCondVVV
	OpValIsNotInTableCondVVV
	OpConstIsInTableCondVVC
	OpConstIsNotInTableCondVVC
	OpVal2IsInTableCondVVVV
	OpVal2IsNotInTableCondVVVV
	OpVal2IsInTableCondVVVC
	OpVal2IsNotInTableCondVVVC
	OpVal2IsInTableCondVVCV
	OpVal2IsNotInTableCondVVCV

	// Switches, one per internal key type.
	OpSwitchIVVV
	OpSwitchUVVV
	OpSwitchDVVV
	OpSwitchSVVV
	OpSwitchAVVV
	OpSwitchNVVV

	// Iteration.
	OpInitTableLoopVVc
	OpInitVectorLoopVV
	OpInitStringLoopVV
	OpNextTableIterVV
	OpNextTableIterValVarVVV
	OpNextVectorIterVVV
	OpNextStringIterVVV
	OpEndLoopV

	// Assignment.
	OpAssignVV
	OpAssignManagedVV
	OpAssignConstVC
	OpAssignManagedConstVC
	OpAssignAnyVV
	OpAssignAnyVC
	OpCastAnyVV
	OpBranchIfNotTypeVV

	// Interpreter-frame transfer.
	OpLoadValVV
	OpLoadManagedValVV
	OpStoreValVV
	OpStoreAnyValVV

	// Globals.
	OpLoadGlobalVi
	OpLoadManagedGlobalVi

	// Integer arithmetic.
	OpAddIntVVV
	OpAddIntVVC
	OpSubIntVVV
	OpSubIntVVC
	OpSubIntVCV
	OpMulIntVVV
	OpMulIntVVC
	OpDivIntVVV
	OpDivIntVVC
	OpDivIntVCV
	OpModIntVVV
	OpModIntVVC
	OpModIntVCV

	// Count arithmetic.
	OpAddCountVVV
	OpAddCountVVC
	OpSubCountVVV
	OpSubCountVVC
	OpSubCountVCV
	OpMulCountVVV
	OpMulCountVVC
	OpDivCountVVV
	OpDivCountVVC
	OpDivCountVCV
	OpModCountVVV
	OpModCountVVC
	OpModCountVCV

	// Double arithmetic.
	OpAddDoubleVVV
	OpAddDoubleVVC
	OpSubDoubleVVV
	OpSubDoubleVVC
	OpSubDoubleVCV
	OpMulDoubleVVV
	OpMulDoubleVVC
	OpDivDoubleVVV
	OpDivDoubleVVC
	OpDivDoubleVCV

	OpNegIntVV
	OpNegDoubleVV
	OpNotVV

	// Vectorized arithmetic.
	OpAddVecIntVVV
	OpAddVecCountVVV
	OpAddVecDoubleVVV
	OpSubVecIntVVV
	OpSubVecCountVVV
	OpSubVecDoubleVVV
	OpMulVecIntVVV
	OpMulVecCountVVV
	OpMulVecDoubleVVV

	// Numeric coercions: the suffix names target-from-source.
	OpCoerceDIVV
	OpCoerceDUVV
	OpCoerceIDVV
	OpCoerceIUVV
	OpCoerceUDVV
	OpCoerceUIVV
	OpCoerceDIVecVV
	OpCoerceDUVecVV
	OpCoerceIDVecVV
	OpCoerceIUVecVV
	OpCoerceUDVecVV
	OpCoerceUIVecVV

	// Comparisons.
	OpEqIntVVV
	OpEqIntVVC
	OpNeIntVVV
	OpNeIntVVC
	OpLtIntVVV
	OpLtIntVVC
	OpLtIntVCV
	OpLeIntVVV
	OpLeIntVVC
	OpLeIntVCV

	OpEqCountVVV
	OpEqCountVVC
	OpNeCountVVV
	OpNeCountVVC
	OpLtCountVVV
	OpLtCountVVC
	OpLtCountVCV
	OpLeCountVVV
	OpLeCountVVC
	OpLeCountVCV

	OpEqDoubleVVV
	OpEqDoubleVVC
	OpNeDoubleVVV
	OpNeDoubleVVC
	OpLtDoubleVVV
	OpLtDoubleVVC
	OpLtDoubleVCV
	OpLeDoubleVVV
	OpLeDoubleVVC
	OpLeDoubleVCV

	OpEqStrVVV
	OpEqStrVVC
	OpNeStrVVV
	OpNeStrVVC
	OpLtStrVVV
	OpLtStrVVC
	OpLtStrVCV
	OpLeStrVVV
	OpLeStrVVC
	OpLeStrVCV

	// String concatenation.
	OpCatStrVVV
	OpCatStrVVC
	OpCatStrVCV

	// Membership tests.
	OpPInSVVV
	OpPInSVVC
	OpPInSVCV
	OpSInSVVV
	OpSInSVVC
	OpSInSVCV
	OpAInSVVV
	OpAInSVVC
	OpAInSVCV
	OpValIsInTableVVV
	OpConstIsInTableVCV
	OpVal2IsInTableVVVV
	OpVal2IsInTableVVVC
	OpVal2IsInTableVVCV
	OpListIsInTableVV
	OpListIsInTableVC
	OpIndexIsInVectorVV
	OpIndexIsInVectorVC

	// Indexing.
	OpTableIndex1VVV
	OpTableIndex1ManagedVVV
	OpTableIndex1VVC
	OpTableIndex1ManagedVVC
	OpTableIndexVV
	OpIndexVecVVV
	OpIndexVecCVVV
	OpIndexVecSliceVV
	OpIndexStringVVV
	OpIndexStringCVVV
	OpIndexStringSliceVV

	// Record fields.
	OpFieldVVi
	OpHasFieldVVi
	OpFieldAssignViV
	OpFieldAssignViC

	// Aggregate element assignment.
	OpVectorElemAssignVVV
	OpVectorElemAssignVVC
	OpVectorElemAssignViV
	OpVectorSliceAssignVV
	OpTableElemAssignVV
	OpTableElemAssignVC

	// Construction and initialization.
	OpConstructTableVV
	OpConstructSetV
	OpConstructRecordV
	OpConstructVectorV
	OpInitRecordV
	OpInitVectorV
	OpInitTableV

	// Aggregate coercions and type tests.
	OpRecordCoerceVVV
	OpTableCoerceVV
	OpVectorCoerceVV
	OpIsVV

	// Calls.
	OpCall0X
	OpCall0V
	OpCall0ManagedV
	OpCall1V
	OpCall1C
	OpCall1VV
	OpCall1ManagedVV
	OpCall1VC
	OpCall1ManagedVC
	OpCall2c
	OpCall2Vc
	OpCall2ManagedVc
	OpCall3c
	OpCall3Vc
	OpCall3ManagedVc
	OpCall4c
	OpCall4Vc
	OpCall4ManagedVc
	OpCall5c
	OpCall5Vc
	OpCall5ManagedVc
	OpCallNc
	OpCallNVc
	OpCallNManagedVc
	OpIndCallNVc
	OpIndCallNVVc
	OpIndCallNManagedVVc

	// Built-in intrinsics.
	OpToLowerVV
	OpSubBytesVVVV
	OpSubBytesVVVi
	OpSubBytesVViV
	OpSubBytesVVii
	OpSubBytesVVVC
	OpSubBytesVViC
	OpSubBytesViVC
	OpSubBytesViiC
	OpStrStrVVV
	OpStrStrVVC
	OpStrStrVCV
	OpLogWriteVVV
	OpLogWriteVVC
	OpLogWriteVV
	OpLogWriteVC
	OpBrokerFlushLogsV
	OpBrokerFlushLogsX
	OpGetPortTransportProtoVV
	OpReadingLiveTrafficV
	OpReadingTracesV

	// Deferred evaluation, scheduling, events.
	OpWhenVV
	OpWhenVVVC
	OpWhenVVVV
	OpSchedule0ViH
	OpSchedule0CiH
	OpScheduleViHL
	OpScheduleCiHL
	OpEventHL

	numOps
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

type opFlags uint32

const (
	opAssign       opFlags = 1 << iota // writes frame[v1]
	opSideEffects                      // externally visible effect
	opBranch                           // carries a branch target
	opUncondBranch                     // unconditional transfer
	opStops                            // execution does not continue past it
	opLoad                             // loads a value into v1
	opGlobalLoad                       // v2 indexes the globals table
	opFrameStore                       // stores frame[v1] to the interpreter frame
	opDirectAssign                     // plain slot-to-slot move
)

// opDesc is the static description of one opcode.  The flavor maps
// below are derived from this table at startup.
type opDesc struct {
	name  string
	ot    OpType
	flags opFlags
}

var opTable = map[Op]opDesc{
	OpNop: {"nop", OTX, 0},

	OpGotoV:        {"goto", OTVI1, opBranch | opUncondBranch | opStops},
	OpSyncGlobalsX: {"sync_globals", OTX, opSideEffects},
	OpDirtyGlobalV: {"dirty_global", OTVI1, opSideEffects},
	OpHookBreakX:   {"hook_break", OTX, opStops | opSideEffects},
	OpReturnX:      {"return_X", OTX, opStops | opSideEffects},
	OpReturnV:      {"return_V", OTV, opStops | opSideEffects},
	OpReturnC:      {"return_C", OTC, opStops | opSideEffects},

	OpIfVV:                     {"if", OTVVI2, opBranch},
	OpIfNotVV:                  {"if_not", OTVVI2, opBranch},
	OpIfElseVV:                 {"if_else", OTVVI2, opBranch},
	OpHasFieldCondVVV:          {"has_field_cond", OTVVVI2I3, opBranch},
	OpNotHasFieldCondVVV:       {"not_has_field_cond", OTVVVI2I3, opBranch},
	OpValIsInTableCondVVV:      {"val_is_in_table_cond", OTVVVI3, opBranch},
	OpValIsNotInTableCondVVV:   {"val_is_not_in_table_cond", OTVVVI3, opBranch},
	OpConstIsInTableCondVVC:    {"const_is_in_table_cond", OTVVCI2, opBranch},
	OpConstIsNotInTableCondVVC: {"const_is_not_in_table_cond", OTVVCI2, opBranch},
	OpVal2IsInTableCondVVVV:    {"val2_is_in_table_cond_VVVV", OTVVVVI4, opBranch},
	OpVal2IsNotInTableCondVVVV: {"val2_is_not_in_table_cond_VVVV", OTVVVVI4, opBranch},
	OpVal2IsInTableCondVVVC:    {"val2_is_in_table_cond_VVVC", OTVVVCI3, opBranch},
	OpVal2IsNotInTableCondVVVC: {"val2_is_not_in_table_cond_VVVC", OTVVVCI3, opBranch},
	OpVal2IsInTableCondVVCV:    {"val2_is_in_table_cond_VVCV", OTVVVCI3, opBranch},
	OpVal2IsNotInTableCondVVCV: {"val2_is_not_in_table_cond_VVCV", OTVVVCI3, opBranch},

	OpSwitchIVVV: {"switchi", OTVVVI2I3, opBranch},
	OpSwitchUVVV: {"switchu", OTVVVI2I3, opBranch},
	OpSwitchDVVV: {"switchd", OTVVVI2I3, opBranch},
	OpSwitchSVVV: {"switchs", OTVVVI2I3, opBranch},
	OpSwitchAVVV: {"switcha", OTVVVI2I3, opBranch},
	OpSwitchNVVV: {"switchn", OTVVVI2I3, opBranch},

	OpInitTableLoopVVc:       {"init_table_loop", OTVVc, opAssign},
	OpInitVectorLoopVV:       {"init_vector_loop", OTVVc, opAssign},
	OpInitStringLoopVV:       {"init_string_loop", OTVVc, opAssign},
	OpNextTableIterVV:        {"next_table_iter", OTVVI2, opBranch | opSideEffects},
	OpNextTableIterValVarVVV: {"next_table_iter_val_var", OTVVVI3, opAssign | opBranch | opSideEffects},
	OpNextVectorIterVVV:      {"next_vector_iter", OTVVVI3, opAssign | opBranch | opSideEffects},
	OpNextStringIterVVV:      {"next_string_iter", OTVVVI3, opAssign | opBranch | opSideEffects},
	OpEndLoopV:               {"end_loop", OTV, opSideEffects},

	OpAssignVV:             {"assign", OTVV, opAssign | opDirectAssign},
	OpAssignManagedVV:      {"assign_managed", OTVV, opAssign | opDirectAssign},
	OpAssignConstVC:        {"assign_const", OTVC, opAssign},
	OpAssignManagedConstVC: {"assign_managed_const", OTVC, opAssign},
	OpAssignAnyVV:          {"assign_any_VV", OTVV, opAssign},
	OpAssignAnyVC:          {"assign_any_VC", OTVC, opAssign},
	OpCastAnyVV:            {"cast_any", OTVV, opAssign},
	OpBranchIfNotTypeVV:    {"branch_if_not_type", OTVVI2, opBranch},

	OpLoadValVV:        {"load_val", OTVVFrame, opAssign | opLoad},
	OpLoadManagedValVV: {"load_managed_val", OTVVFrame, opAssign | opLoad},
	OpStoreValVV:       {"store_val", OTVVFrame, opFrameStore | opSideEffects},
	OpStoreAnyValVV:    {"store_any_val", OTVVFrame, opFrameStore | opSideEffects},

	OpLoadGlobalVi:        {"load_global", OTViCID, opAssign | opLoad | opGlobalLoad},
	OpLoadManagedGlobalVi: {"load_managed_global", OTViCID, opAssign | opLoad | opGlobalLoad},

	OpAddIntVVV: {"add_int_VVV", OTVVV, opAssign},
	OpAddIntVVC: {"add_int_VVC", OTVVC, opAssign},
	OpSubIntVVV: {"sub_int_VVV", OTVVV, opAssign},
	OpSubIntVVC: {"sub_int_VVC", OTVVC, opAssign},
	OpSubIntVCV: {"sub_int_VCV", OTVVC, opAssign},
	OpMulIntVVV: {"mul_int_VVV", OTVVV, opAssign},
	OpMulIntVVC: {"mul_int_VVC", OTVVC, opAssign},
	OpDivIntVVV: {"div_int_VVV", OTVVV, opAssign},
	OpDivIntVVC: {"div_int_VVC", OTVVC, opAssign},
	OpDivIntVCV: {"div_int_VCV", OTVVC, opAssign},
	OpModIntVVV: {"mod_int_VVV", OTVVV, opAssign},
	OpModIntVVC: {"mod_int_VVC", OTVVC, opAssign},
	OpModIntVCV: {"mod_int_VCV", OTVVC, opAssign},

	OpAddCountVVV: {"add_count_VVV", OTVVV, opAssign},
	OpAddCountVVC: {"add_count_VVC", OTVVC, opAssign},
	OpSubCountVVV: {"sub_count_VVV", OTVVV, opAssign},
	OpSubCountVVC: {"sub_count_VVC", OTVVC, opAssign},
	OpSubCountVCV: {"sub_count_VCV", OTVVC, opAssign},
	OpMulCountVVV: {"mul_count_VVV", OTVVV, opAssign},
	OpMulCountVVC: {"mul_count_VVC", OTVVC, opAssign},
	OpDivCountVVV: {"div_count_VVV", OTVVV, opAssign},
	OpDivCountVVC: {"div_count_VVC", OTVVC, opAssign},
	OpDivCountVCV: {"div_count_VCV", OTVVC, opAssign},
	OpModCountVVV: {"mod_count_VVV", OTVVV, opAssign},
	OpModCountVVC: {"mod_count_VVC", OTVVC, opAssign},
	OpModCountVCV: {"mod_count_VCV", OTVVC, opAssign},

	OpAddDoubleVVV: {"add_double_VVV", OTVVV, opAssign},
	OpAddDoubleVVC: {"add_double_VVC", OTVVC, opAssign},
	OpSubDoubleVVV: {"sub_double_VVV", OTVVV, opAssign},
	OpSubDoubleVVC: {"sub_double_VVC", OTVVC, opAssign},
	OpSubDoubleVCV: {"sub_double_VCV", OTVVC, opAssign},
	OpMulDoubleVVV: {"mul_double_VVV", OTVVV, opAssign},
	OpMulDoubleVVC: {"mul_double_VVC", OTVVC, opAssign},
	OpDivDoubleVVV: {"div_double_VVV", OTVVV, opAssign},
	OpDivDoubleVVC: {"div_double_VVC", OTVVC, opAssign},
	OpDivDoubleVCV: {"div_double_VCV", OTVVC, opAssign},

	OpNegIntVV:    {"neg_int", OTVV, opAssign},
	OpNegDoubleVV: {"neg_double", OTVV, opAssign},
	OpNotVV:       {"not", OTVV, opAssign},

	OpAddVecIntVVV:    {"add_vec_int", OTVVV, opAssign},
	OpAddVecCountVVV:  {"add_vec_count", OTVVV, opAssign},
	OpAddVecDoubleVVV: {"add_vec_double", OTVVV, opAssign},
	OpSubVecIntVVV:    {"sub_vec_int", OTVVV, opAssign},
	OpSubVecCountVVV:  {"sub_vec_count", OTVVV, opAssign},
	OpSubVecDoubleVVV: {"sub_vec_double", OTVVV, opAssign},
	OpMulVecIntVVV:    {"mul_vec_int", OTVVV, opAssign},
	OpMulVecCountVVV:  {"mul_vec_count", OTVVV, opAssign},
	OpMulVecDoubleVVV: {"mul_vec_double", OTVVV, opAssign},

	OpCoerceDIVV:    {"coerce_di", OTVV, opAssign},
	OpCoerceDUVV:    {"coerce_du", OTVV, opAssign},
	OpCoerceIDVV:    {"coerce_id", OTVV, opAssign},
	OpCoerceIUVV:    {"coerce_iu", OTVV, opAssign},
	OpCoerceUDVV:    {"coerce_ud", OTVV, opAssign},
	OpCoerceUIVV:    {"coerce_ui", OTVV, opAssign},
	OpCoerceDIVecVV: {"coerce_di_vec", OTVV, opAssign},
	OpCoerceDUVecVV: {"coerce_du_vec", OTVV, opAssign},
	OpCoerceIDVecVV: {"coerce_id_vec", OTVV, opAssign},
	OpCoerceIUVecVV: {"coerce_iu_vec", OTVV, opAssign},
	OpCoerceUDVecVV: {"coerce_ud_vec", OTVV, opAssign},
	OpCoerceUIVecVV: {"coerce_ui_vec", OTVV, opAssign},

	OpEqIntVVV: {"eq_int_VVV", OTVVV, opAssign},
	OpEqIntVVC: {"eq_int_VVC", OTVVC, opAssign},
	OpNeIntVVV: {"ne_int_VVV", OTVVV, opAssign},
	OpNeIntVVC: {"ne_int_VVC", OTVVC, opAssign},
	OpLtIntVVV: {"lt_int_VVV", OTVVV, opAssign},
	OpLtIntVVC: {"lt_int_VVC", OTVVC, opAssign},
	OpLtIntVCV: {"lt_int_VCV", OTVVC, opAssign},
	OpLeIntVVV: {"le_int_VVV", OTVVV, opAssign},
	OpLeIntVVC: {"le_int_VVC", OTVVC, opAssign},
	OpLeIntVCV: {"le_int_VCV", OTVVC, opAssign},

	OpEqCountVVV: {"eq_count_VVV", OTVVV, opAssign},
	OpEqCountVVC: {"eq_count_VVC", OTVVC, opAssign},
	OpNeCountVVV: {"ne_count_VVV", OTVVV, opAssign},
	OpNeCountVVC: {"ne_count_VVC", OTVVC, opAssign},
	OpLtCountVVV: {"lt_count_VVV", OTVVV, opAssign},
	OpLtCountVVC: {"lt_count_VVC", OTVVC, opAssign},
	OpLtCountVCV: {"lt_count_VCV", OTVVC, opAssign},
	OpLeCountVVV: {"le_count_VVV", OTVVV, opAssign},
	OpLeCountVVC: {"le_count_VVC", OTVVC, opAssign},
	OpLeCountVCV: {"le_count_VCV", OTVVC, opAssign},

	OpEqDoubleVVV: {"eq_double_VVV", OTVVV, opAssign},
	OpEqDoubleVVC: {"eq_double_VVC", OTVVC, opAssign},
	OpNeDoubleVVV: {"ne_double_VVV", OTVVV, opAssign},
	OpNeDoubleVVC: {"ne_double_VVC", OTVVC, opAssign},
	OpLtDoubleVVV: {"lt_double_VVV", OTVVV, opAssign},
	OpLtDoubleVVC: {"lt_double_VVC", OTVVC, opAssign},
	OpLtDoubleVCV: {"lt_double_VCV", OTVVC, opAssign},
	OpLeDoubleVVV: {"le_double_VVV", OTVVV, opAssign},
	OpLeDoubleVVC: {"le_double_VVC", OTVVC, opAssign},
	OpLeDoubleVCV: {"le_double_VCV", OTVVC, opAssign},

	OpEqStrVVV: {"eq_str_VVV", OTVVV, opAssign},
	OpEqStrVVC: {"eq_str_VVC", OTVVC, opAssign},
	OpNeStrVVV: {"ne_str_VVV", OTVVV, opAssign},
	OpNeStrVVC: {"ne_str_VVC", OTVVC, opAssign},
	OpLtStrVVV: {"lt_str_VVV", OTVVV, opAssign},
	OpLtStrVVC: {"lt_str_VVC", OTVVC, opAssign},
	OpLtStrVCV: {"lt_str_VCV", OTVVC, opAssign},
	OpLeStrVVV: {"le_str_VVV", OTVVV, opAssign},
	OpLeStrVVC: {"le_str_VVC", OTVVC, opAssign},
	OpLeStrVCV: {"le_str_VCV", OTVVC, opAssign},

	OpCatStrVVV: {"cat_str_VVV", OTVVV, opAssign},
	OpCatStrVVC: {"cat_str_VVC", OTVVC, opAssign},
	OpCatStrVCV: {"cat_str_VCV", OTVVC, opAssign},

	OpPInSVVV:           {"p_in_s_VVV", OTVVV, opAssign},
	OpPInSVVC:           {"p_in_s_VVC", OTVVC, opAssign},
	OpPInSVCV:           {"p_in_s_VCV", OTVVC, opAssign},
	OpSInSVVV:           {"s_in_s_VVV", OTVVV, opAssign},
	OpSInSVVC:           {"s_in_s_VVC", OTVVC, opAssign},
	OpSInSVCV:           {"s_in_s_VCV", OTVVC, opAssign},
	OpAInSVVV:           {"a_in_s_VVV", OTVVV, opAssign},
	OpAInSVVC:           {"a_in_s_VVC", OTVVC, opAssign},
	OpAInSVCV:           {"a_in_s_VCV", OTVVC, opAssign},
	OpValIsInTableVVV:   {"val_is_in_table", OTVVV, opAssign},
	OpConstIsInTableVCV: {"const_is_in_table", OTVVC, opAssign},
	OpVal2IsInTableVVVV: {"val2_is_in_table_VVVV", OTVVVV, opAssign},
	OpVal2IsInTableVVVC: {"val2_is_in_table_VVVC", OTVVVC, opAssign},
	OpVal2IsInTableVVCV: {"val2_is_in_table_VVCV", OTVVVC, opAssign},
	OpListIsInTableVV:   {"list_is_in_table_VV", OTVVc, opAssign},
	OpListIsInTableVC:   {"list_is_in_table_VC", OTVc, opAssign},
	OpIndexIsInVectorVV: {"index_is_in_vector_VV", OTVVc, opAssign},
	OpIndexIsInVectorVC: {"index_is_in_vector_VC", OTVc, opAssign},

	OpTableIndex1VVV:        {"table_index1_VVV", OTVVV, opAssign},
	OpTableIndex1ManagedVVV: {"table_index1_managed_VVV", OTVVV, opAssign},
	OpTableIndex1VVC:        {"table_index1_VVC", OTVVC, opAssign},
	OpTableIndex1ManagedVVC: {"table_index1_managed_VVC", OTVVC, opAssign},
	OpTableIndexVV:          {"table_index", OTVVc, opAssign},
	OpIndexVecVVV:           {"index_vec_VVV", OTVVV, opAssign},
	OpIndexVecCVVV:          {"index_vecc_VVV", OTVVVI3, opAssign},
	OpIndexVecSliceVV:       {"index_vec_slice", OTVVc, opAssign},
	OpIndexStringVVV:        {"index_string_VVV", OTVVV, opAssign},
	OpIndexStringCVVV:       {"index_stringc_VVV", OTVVVI3, opAssign},
	OpIndexStringSliceVV:    {"index_string_slice", OTVVc, opAssign},

	OpFieldVVi:       {"field", OTVVVI3, opAssign},
	OpHasFieldVVi:    {"has_field", OTVVVI3, opAssign},
	OpFieldAssignViV: {"field_assign_ViV", OTVVVI2, opSideEffects},
	OpFieldAssignViC: {"field_assign_ViC", OTVVCI2, opSideEffects},

	OpVectorElemAssignVVV: {"vector_elem_assign_VVV", OTVVV, opSideEffects},
	OpVectorElemAssignVVC: {"vector_elem_assign_VVC", OTVVC, opSideEffects},
	OpVectorElemAssignViV: {"vector_elem_assign_ViV", OTVVVI2, opSideEffects},
	OpVectorSliceAssignVV: {"vector_slice_assign", OTVVc, opSideEffects},
	OpTableElemAssignVV:   {"table_elem_assign_VV", OTVVc, opSideEffects},
	OpTableElemAssignVC:   {"table_elem_assign_VC", OTVc, opSideEffects},

	OpConstructTableVV: {"construct_table", OTVVI2, opAssign},
	OpConstructSetV:    {"construct_set", OTVc, opAssign},
	OpConstructRecordV: {"construct_record", OTVc, opAssign},
	OpConstructVectorV: {"construct_vector", OTVc, opAssign},
	OpInitRecordV:      {"init_record", OTV, opAssign},
	OpInitVectorV:      {"init_vector", OTV, opAssign},
	OpInitTableV:       {"init_table", OTV, opAssign},

	OpRecordCoerceVVV: {"record_coerce", OTVVVI3, opAssign},
	OpTableCoerceVV:   {"table_coerce", OTVV, opAssign},
	OpVectorCoerceVV:  {"vector_coerce", OTVV, opAssign},
	OpIsVV:            {"is", OTVV, opAssign},

	OpCall0X:             {"call0_X", OTX, opSideEffects},
	OpCall0V:             {"call0_V", OTV, opAssign | opSideEffects},
	OpCall0ManagedV:      {"call0_managed_V", OTV, opAssign | opSideEffects},
	OpCall1V:             {"call1_V", OTV, opSideEffects},
	OpCall1C:             {"call1_C", OTC, opSideEffects},
	OpCall1VV:            {"call1_VV", OTVV, opAssign | opSideEffects},
	OpCall1ManagedVV:     {"call1_managed_VV", OTVV, opAssign | opSideEffects},
	OpCall1VC:            {"call1_VC", OTVC, opAssign | opSideEffects},
	OpCall1ManagedVC:     {"call1_managed_VC", OTVC, opAssign | opSideEffects},
	OpCall2c:             {"call2_c", OTc, opSideEffects},
	OpCall2Vc:            {"call2_Vc", OTVc, opAssign | opSideEffects},
	OpCall2ManagedVc:     {"call2_managed_Vc", OTVc, opAssign | opSideEffects},
	OpCall3c:             {"call3_c", OTc, opSideEffects},
	OpCall3Vc:            {"call3_Vc", OTVc, opAssign | opSideEffects},
	OpCall3ManagedVc:     {"call3_managed_Vc", OTVc, opAssign | opSideEffects},
	OpCall4c:             {"call4_c", OTc, opSideEffects},
	OpCall4Vc:            {"call4_Vc", OTVc, opAssign | opSideEffects},
	OpCall4ManagedVc:     {"call4_managed_Vc", OTVc, opAssign | opSideEffects},
	OpCall5c:             {"call5_c", OTc, opSideEffects},
	OpCall5Vc:            {"call5_Vc", OTVc, opAssign | opSideEffects},
	OpCall5ManagedVc:     {"call5_managed_Vc", OTVc, opAssign | opSideEffects},
	OpCallNc:             {"calln_c", OTc, opSideEffects},
	OpCallNVc:            {"calln_Vc", OTVc, opAssign | opSideEffects},
	OpCallNManagedVc:     {"calln_managed_Vc", OTVc, opAssign | opSideEffects},
	OpIndCallNVc:         {"indcalln_Vc", OTVc, opSideEffects},
	OpIndCallNVVc:        {"indcalln_VVc", OTVVc, opAssign | opSideEffects},
	OpIndCallNManagedVVc: {"indcalln_managed_VVc", OTVVc, opAssign | opSideEffects},

	OpToLowerVV:    {"to_lower", OTVV, opAssign},
	OpSubBytesVVVV: {"sub_bytes_VVVV", OTVVVV, opAssign},
	OpSubBytesVVVi: {"sub_bytes_VVVi", OTVVVVI4, opAssign},
	OpSubBytesVViV: {"sub_bytes_VViV", OTVVVVI4, opAssign},
	OpSubBytesVVii: {"sub_bytes_VVii", OTVVVVI3I4, opAssign},
	OpSubBytesVVVC: {"sub_bytes_VVVC", OTVVVC, opAssign},
	OpSubBytesVViC: {"sub_bytes_VViC", OTVVVCI3, opAssign},
	OpSubBytesViVC: {"sub_bytes_ViVC", OTVVVCI3, opAssign},
	OpSubBytesViiC: {"sub_bytes_ViiC", OTVVVCI2I3, opAssign},
	OpStrStrVVV:    {"strstr_VVV", OTVVV, opAssign},
	OpStrStrVVC:    {"strstr_VVC", OTVVC, opAssign},
	OpStrStrVCV:    {"strstr_VCV", OTVVC, opAssign},

	OpLogWriteVVV:      {"log_write_VVV", OTVVV, opAssign | opSideEffects},
	OpLogWriteVVC:      {"log_write_VVC", OTVVc, opAssign | opSideEffects},
	OpLogWriteVV:       {"log_write_VV", OTVV, opSideEffects},
	OpLogWriteVC:       {"log_write_VC", OTVc, opSideEffects},
	OpBrokerFlushLogsV: {"broker_flush_logs_V", OTV, opAssign | opSideEffects},
	OpBrokerFlushLogsX: {"broker_flush_logs_X", OTX, opSideEffects},

	OpGetPortTransportProtoVV: {"get_port_transport_proto", OTVV, opAssign},
	OpReadingLiveTrafficV:     {"reading_live_traffic", OTV, opAssign},
	OpReadingTracesV:          {"reading_traces", OTV, opAssign},

	OpWhenVV:       {"when_VV", OTVVI1I2, opBranch | opSideEffects},
	OpWhenVVVC:     {"when_VVVC", OTVVVCI1I2I3, opBranch | opSideEffects},
	OpWhenVVVV:     {"when_VVVV", OTVVVVI2I3I4, opBranch | opSideEffects},
	OpSchedule0ViH: {"schedule0_ViH", OTVVI2, opSideEffects},
	OpSchedule0CiH: {"schedule0_CiH", OTVCI1, opSideEffects},
	OpScheduleViHL: {"schedule_ViHL", OTVVI2, opSideEffects},
	OpScheduleCiHL: {"schedule_CiHL", OTVCI1, opSideEffects},
	OpEventHL:      {"event_HL", OTc, opSideEffects},
}

// opNames maps mnemonics back to opcodes; built at startup.
var opNames = func() map[string]Op {
	m := make(map[string]Op, len(opTable))
	for op, d := range opTable {
		m[d.name] = op
	}
	return m
}()

func (op Op) desc() opDesc { return opTable[op] }

// Name returns the opcode's mnemonic.
func (op Op) Name() string {
	if d, ok := opTable[op]; ok {
		return d.name
	}
	return fmt.Sprintf("unknown_%d", int(op))
}

func (op Op) String() string { return op.Name() }

// DefaultOpType returns the operand form the opcode uses unless the
// generator overrides it.
func (op Op) DefaultOpType() OpType { return opTable[op].ot }

// OpByName resolves a mnemonic, as produced by dumps, to its opcode.
func OpByName(name string) (Op, bool) {
	op, ok := opNames[name]
	return op, ok
}

// NumOps returns the size of the opcode space.
func NumOps() int { return int(numOps) }

// Predicates over opcodes.
func (op Op) AssignsToSlot1() bool        { return opTable[op].flags&opAssign != 0 }
func (op Op) HasSideEffects() bool        { return opTable[op].flags&opSideEffects != 0 }
func (op Op) IsBranch() bool              { return opTable[op].flags&opBranch != 0 }
func (op Op) IsUnconditionalBranch() bool { return opTable[op].flags&opUncondBranch != 0 }
func (op Op) DoesNotContinue() bool       { return opTable[op].flags&opStops != 0 }
func (op Op) IsLoad() bool                { return opTable[op].flags&opLoad != 0 }
func (op Op) IsGlobalLoad() bool          { return opTable[op].flags&opGlobalLoad != 0 }
func (op Op) IsFrameStore() bool          { return opTable[op].flags&opFrameStore != 0 }
func (op Op) IsDirectAssignment() bool    { return opTable[op].flags&opDirectAssign != 0 }

// ---------------------------------------------------------------------------
// Assignment flavors
// ---------------------------------------------------------------------------

// assignmentFlavor maps a generic assigning opcode and the semantic
// type of its destination to the concrete opcode the generator emits.
// Lookups normalize the tag first (see TypeTag.InternalTag).
var assignmentFlavor map[Op]map[TypeTag]Op

// assignmentlessOp maps assigning opcodes whose side effects must
// survive to the counterpart without a destination; operand slots
// shift down by one (v2->v1, v3->v2, v4->v3).
var assignmentlessOp map[Op]Op

// assignmentlessOpType gives the operand form of the counterpart.
var assignmentlessOpType map[Op]OpType

func addFlavors(orig Op, unmanaged, managed Op) {
	m := make(map[TypeTag]Op)
	for _, tag := range []TypeTag{TagInt, TagCount, TagDouble} {
		m[tag] = unmanaged
	}
	for _, tag := range []TypeTag{TagString, TagPattern, TagAddr, TagSubNet,
		TagRecord, TagTable, TagVector, TagFile, TagFunc, TagList, TagAny} {
		m[tag] = managed
	}
	assignmentFlavor[orig] = m
}

func addAssignmentless(orig, counterpart Op, ot OpType) {
	assignmentlessOp[orig] = counterpart
	assignmentlessOpType[orig] = ot
}

func init() {
	assignmentFlavor = make(map[Op]map[TypeTag]Op)
	assignmentlessOp = make(map[Op]Op)
	assignmentlessOpType = make(map[Op]OpType)

	addFlavors(OpAssignVV, OpAssignVV, OpAssignManagedVV)
	addFlavors(OpAssignConstVC, OpAssignConstVC, OpAssignManagedConstVC)
	addFlavors(OpLoadValVV, OpLoadValVV, OpLoadManagedValVV)
	addFlavors(OpLoadGlobalVi, OpLoadGlobalVi, OpLoadManagedGlobalVi)
	addFlavors(OpTableIndex1VVV, OpTableIndex1VVV, OpTableIndex1ManagedVVV)
	addFlavors(OpTableIndex1VVC, OpTableIndex1VVC, OpTableIndex1ManagedVVC)
	addFlavors(OpCall0V, OpCall0V, OpCall0ManagedV)
	addFlavors(OpCall1VV, OpCall1VV, OpCall1ManagedVV)
	addFlavors(OpCall1VC, OpCall1VC, OpCall1ManagedVC)
	addFlavors(OpCall2Vc, OpCall2Vc, OpCall2ManagedVc)
	addFlavors(OpCall3Vc, OpCall3Vc, OpCall3ManagedVc)
	addFlavors(OpCall4Vc, OpCall4Vc, OpCall4ManagedVc)
	addFlavors(OpCall5Vc, OpCall5Vc, OpCall5ManagedVc)
	addFlavors(OpCallNVc, OpCallNVc, OpCallNManagedVc)
	addFlavors(OpIndCallNVVc, OpIndCallNVVc, OpIndCallNManagedVVc)

	addAssignmentless(OpCall0V, OpCall0X, OTX)
	addAssignmentless(OpCall0ManagedV, OpCall0X, OTX)
	addAssignmentless(OpCall1VV, OpCall1V, OTV)
	addAssignmentless(OpCall1ManagedVV, OpCall1V, OTV)
	addAssignmentless(OpCall1VC, OpCall1C, OTC)
	addAssignmentless(OpCall1ManagedVC, OpCall1C, OTC)
	addAssignmentless(OpCall2Vc, OpCall2c, OTc)
	addAssignmentless(OpCall2ManagedVc, OpCall2c, OTc)
	addAssignmentless(OpCall3Vc, OpCall3c, OTc)
	addAssignmentless(OpCall3ManagedVc, OpCall3c, OTc)
	addAssignmentless(OpCall4Vc, OpCall4c, OTc)
	addAssignmentless(OpCall4ManagedVc, OpCall4c, OTc)
	addAssignmentless(OpCall5Vc, OpCall5c, OTc)
	addAssignmentless(OpCall5ManagedVc, OpCall5c, OTc)
	addAssignmentless(OpCallNVc, OpCallNc, OTc)
	addAssignmentless(OpCallNManagedVc, OpCallNc, OTc)
	addAssignmentless(OpIndCallNVVc, OpIndCallNVc, OTVc)
	addAssignmentless(OpIndCallNManagedVVc, OpIndCallNVc, OTVc)
}

// AssignmentFlavor resolves the concrete, type-specialized opcode for a
// generic assigning opcode and a destination type tag.
func AssignmentFlavor(orig Op, tag TypeTag) (Op, error) {
	m, ok := assignmentFlavor[orig]
	if !ok {
		return OpNop, fmt.Errorf("no assignment flavors for %s", orig)
	}
	op, ok := m[tag.InternalTag()]
	if !ok {
		return OpNop, fmt.Errorf("no %s flavor for type %s", orig, tag)
	}
	return op, nil
}

// AssignmentlessOp returns the side-effect-preserving counterpart of an
// assigning opcode, if one exists.
func AssignmentlessOp(op Op) (Op, OpType, bool) {
	c, ok := assignmentlessOp[op]
	if !ok {
		return OpNop, OTX, false
	}
	return c, assignmentlessOpType[op], true
}
