package vm

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// ---------------------------------------------------------------------------
// Execution profiling
// ---------------------------------------------------------------------------

// ProfileSink accumulates per-opcode and per-instruction execution
// counts and CPU time for one body.  It is engine-scoped: the caller
// owns it and attaches it per execution, so interleaved invocations
// never share counters by accident.
type ProfileSink struct {
	OpCount   map[Op]int
	OpCPU     map[Op]time.Duration
	InstCount []int
	InstCPU   []time.Duration
	CPUTime   time.Duration
}

// NewProfileSink sizes a sink for a body.
func NewProfileSink(b *CompiledBody) *ProfileSink {
	return &ProfileSink{
		OpCount:   make(map[Op]int),
		OpCPU:     make(map[Op]time.Duration),
		InstCount: make([]int, len(b.Insts)),
		InstCPU:   make([]time.Duration, len(b.Insts)),
	}
}

func (p *ProfileSink) record(pc int, op Op, dt time.Duration) {
	p.OpCount[op]++
	p.OpCPU[op] += dt
	if pc < len(p.InstCount) {
		p.InstCount[pc]++
		p.InstCPU[pc] += dt
	}
}

// ReportOpProfile writes per-opcode counts and cumulative CPU time.
func (p *ProfileSink) ReportOpProfile(w io.Writer) {
	ops := make([]Op, 0, len(p.OpCount))
	for op := range p.OpCount {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })

	for _, op := range ops {
		fmt.Fprintf(w, "%s\t%d\t%.06f\n", op.Name(), p.OpCount[op],
			p.OpCPU[op].Seconds())
	}
}

// ReportExecution writes per-instruction totals for a body.
func (p *ProfileSink) ReportExecution(w io.Writer, b *CompiledBody) {
	if len(p.InstCount) == 0 {
		fmt.Fprintf(w, "%s has an empty body\n", b.FuncName)
		return
	}
	if p.InstCount[0] == 0 {
		fmt.Fprintf(w, "%s did not execute\n", b.FuncName)
		return
	}

	fmt.Fprintf(w, "%s CPU time: %.06f\n", b.FuncName, p.CPUTime.Seconds())
	for i, inst := range b.Insts {
		fmt.Fprintf(w, "%s %d %d %.06f %s\n", b.FuncName, i,
			p.InstCount[i], p.InstCPU[i].Seconds(), inst.Dump())
	}
}
