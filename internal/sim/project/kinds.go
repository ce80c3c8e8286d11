package project

import (
	"fmt"

	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/logic/mathx"
	"hearthwork.ai/internal/sim/tuning"
)

type Kind uint8

const (
	KindDig Kind = iota + 1
	KindConstruct
	KindCraft
	KindStockpile
	KindMedical
	KindWoodcut
)

var kindNames = map[Kind]string{
	KindDig:       "dig",
	KindConstruct: "construct",
	KindCraft:     "craft",
	KindStockpile: "stockpile",
	KindMedical:   "medical",
	KindWoodcut:   "woodcut",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func ParseKind(s string) (Kind, bool) {
	for k, n := range kindNames {
		if n == s {
			return k, true
		}
	}
	return 0, false
}

// Policy is the retry and reset behavior of a kind, read from tuning.
func (k Kind) Policy(t tuning.Tuning) tuning.Policy { return t.Policy(k.String()) }

type Need struct {
	Query    model.Query `cbor:"query" json:"query" yaml:"query"`
	Quantity int         `cbor:"quantity" json:"quantity" yaml:"quantity"`
}

type Byproduct struct {
	Type     string `cbor:"type" json:"type" yaml:"type"`
	Material string `cbor:"material,omitempty" json:"material,omitempty" yaml:"material,omitempty"`
	Quantity int    `cbor:"quantity" json:"quantity" yaml:"quantity"`
}

// Design is everything a project is created from.
type Design struct {
	Kind       Kind            `cbor:"kind" json:"kind"`
	Location   model.Vec3i     `cbor:"location" json:"location"`
	Faction    model.FactionID `cbor:"faction" json:"faction"`
	MaxWorkers int             `cbor:"max_workers" json:"max_workers"`

	Consumed   []Need      `cbor:"consumed,omitempty" json:"consumed,omitempty"`
	Unconsumed []Need      `cbor:"unconsumed,omitempty" json:"unconsumed,omitempty"`
	Byproducts []Byproduct `cbor:"byproducts,omitempty" json:"byproducts,omitempty"`

	// BaseDuration is the steps one worker needs.
	BaseDuration uint64 `cbor:"base_duration" json:"base_duration"`

	Hooks Hooks `cbor:"-" json:"-"`
}

// Duration is the full making time for n workers.
func (d Design) Duration(n int) uint64 {
	if n <= 0 {
		n = 1
	}
	if d.BaseDuration == 0 {
		return 1
	}
	return mathx.CeilDiv(d.BaseDuration, uint64(n))
}

// Hooks are a kind's side effects at lifecycle edges. What the project
// actually produces lives behind them.
type Hooks interface {
	OnComplete(p *Project)
	OnCancel(p *Project)
	OnDelay(p *Project)
	OffDelay(p *Project)
	OnDelivered(p *Project, r model.Ref)
}

type NopHooks struct{}

func (NopHooks) OnComplete(*Project)             {}
func (NopHooks) OnCancel(*Project)               {}
func (NopHooks) OnDelay(*Project)                {}
func (NopHooks) OffDelay(*Project)               {}
func (NopHooks) OnDelivered(*Project, model.Ref) {}

// HookFuncs adapts optional funcs to Hooks.
type HookFuncs struct {
	Complete  func(p *Project)
	Cancel    func(p *Project)
	Delay     func(p *Project)
	DelayOff  func(p *Project)
	Delivered func(p *Project, r model.Ref)
}

func (h HookFuncs) OnComplete(p *Project) {
	if h.Complete != nil {
		h.Complete(p)
	}
}

func (h HookFuncs) OnCancel(p *Project) {
	if h.Cancel != nil {
		h.Cancel(p)
	}
}

func (h HookFuncs) OnDelay(p *Project) {
	if h.Delay != nil {
		h.Delay(p)
	}
}

func (h HookFuncs) OffDelay(p *Project) {
	if h.DelayOff != nil {
		h.DelayOff(p)
	}
}

func (h HookFuncs) OnDelivered(p *Project, r model.Ref) {
	if h.Delivered != nil {
		h.Delivered(p, r)
	}
}
