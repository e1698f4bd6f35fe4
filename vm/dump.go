package vm

import (
	"fmt"
	"io"
	"sort"
)

// Dump writes the body's frames and both instruction lists, with
// loop-depth annotations and dead-instruction marks.
func (b *CompiledBody) Dump(w io.Writer) {
	remapped := len(b.SharedFrame) > 0

	if remapped {
		fmt.Fprintf(w, "Original frame:\n")
	}

	for slot, name := range b.FrameDenizens {
		fmt.Fprintf(w, "frame[%d] = %s\n", slot, name)
	}

	if remapped {
		fmt.Fprintf(w, "Final frame:\n")

		for i, info := range b.SharedFrame {
			fmt.Fprintf(w, "frame2[%d] =", i)
			for _, name := range info.IDs {
				fmt.Fprintf(w, " %s", name)
			}
			fmt.Fprintf(w, "\n")
		}
	}

	if len(b.Insts) > 0 {
		fmt.Fprintf(w, "Pre-removal of dead code:\n")
	}

	for i, inst := range b.Insts1 {
		dumpInst(w, i, inst)
	}

	if len(b.Insts) > 0 {
		fmt.Fprintf(w, "Final code:\n")
	}

	for i, inst := range b.Insts {
		dumpInst(w, i, inst)
	}

	for i, m := range b.IntCases {
		fmt.Fprintf(w, "int switch table #%d:", i)
		keys := make([]int64, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
		for _, k := range keys {
			fmt.Fprintf(w, " %d->%d", k, m[k])
		}
		fmt.Fprintf(w, "\n")
	}
	for i, m := range b.UintCases {
		fmt.Fprintf(w, "uint switch table #%d:", i)
		keys := make([]uint64, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
		for _, k := range keys {
			fmt.Fprintf(w, " %d->%d", k, m[k])
		}
		fmt.Fprintf(w, "\n")
	}
	for i, m := range b.DoubleCases {
		fmt.Fprintf(w, "double switch table #%d:", i)
		keys := make([]float64, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Float64s(keys)
		for _, k := range keys {
			fmt.Fprintf(w, " %f->%d", k, m[k])
		}
		fmt.Fprintf(w, "\n")
	}
	for i, m := range b.StrCases {
		fmt.Fprintf(w, "str switch table #%d:", i)
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, " %s->%d", k, m[k])
		}
		fmt.Fprintf(w, "\n")
	}
}

func dumpInst(w io.Writer, i int, inst *ZInst) {
	dead := ""
	if !inst.Live {
		dead = " (dead)"
	}
	depth := ""
	if inst.LoopDepth > 0 {
		depth = fmt.Sprintf(" (loop %d)", inst.LoopDepth)
	}
	fmt.Fprintf(w, "%d%s%s: %s\n", i, dead, depth, inst.Dump())
}
