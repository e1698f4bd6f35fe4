package compiler

import "strings"

// ---------------------------------------------------------------------------
// Simple collaborator implementations
// ---------------------------------------------------------------------------
//
// Hosts with real analyses supply their own Reducer / UseDefs /
// ProfileFunc; these cover embedding scenarios and tests.

// PrefixReducer treats identifiers with a marker prefix as compiler
// temporaries.
type PrefixReducer struct {
	Prefix string
}

// NewPrefixReducer uses the generator's own "#" temporary convention.
func NewPrefixReducer() *PrefixReducer {
	return &PrefixReducer{Prefix: "#"}
}

func (r *PrefixReducer) IsTemporary(id *ID) bool {
	return strings.HasPrefix(id.Name, r.Prefix)
}

// IDSet is a UsageSet over an explicit identifier set.
type IDSet map[*ID]bool

func (s IDSet) HasID(id *ID) bool { return s[id] }

// StaticUseDefs reports one live-in set for every statement.
type StaticUseDefs struct {
	Used IDSet
}

// NewStaticUseDefs builds a use-def oracle from the given live IDs.
func NewStaticUseDefs(ids ...*ID) *StaticUseDefs {
	used := make(IDSet, len(ids))
	for _, id := range ids {
		used[id] = true
	}
	return &StaticUseDefs{Used: used}
}

func (u *StaticUseDefs) HasUsage(Stmt) bool     { return len(u.Used) > 0 }
func (u *StaticUseDefs) GetUsage(Stmt) UsageSet { return u.Used }

// StaticProfile is a ProfileFunc over explicit identifier lists.
type StaticProfile struct {
	GlobalIDs []*ID
	LocalIDs  []*ID
	InitIDs   []*ID
}

func (p *StaticProfile) Globals() []*ID { return p.GlobalIDs }
func (p *StaticProfile) Locals() []*ID  { return p.LocalIDs }
func (p *StaticProfile) Inits() []*ID   { return p.InitIDs }
