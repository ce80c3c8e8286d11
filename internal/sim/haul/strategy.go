// Package haul decides how a resource gets moved to a project and drives the
// workers through that choreography one action at a time.
package haul

import (
	"fmt"

	"hearthwork.ai/internal/sim/kernel/model"
)

type Strategy uint8

const (
	None Strategy = iota
	Individual
	IndividualCargoIsCart
	Team
	Cart
	TeamCart
	Panniers
	AnimalCart
	// StrongSentient is never planned; it drives like Individual.
	StrongSentient
)

var strategyNames = [...]string{
	None:                  "None",
	Individual:            "Individual",
	IndividualCargoIsCart: "IndividualCargoIsCart",
	Team:                  "Team",
	Cart:                  "Cart",
	TeamCart:              "TeamCart",
	Panniers:              "Panniers",
	AnimalCart:            "AnimalCart",
	StrongSentient:        "StrongSentient",
}

func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("Strategy(%d)", uint8(s))
}

func ParseStrategy(name string) (Strategy, bool) {
	for i, n := range strategyNames {
		if n == name {
			return Strategy(i), true
		}
	}
	return None, false
}

// IsTeam reports strategies that need two workers.
func (s Strategy) IsTeam() bool { return s == Team || s == TeamCart }

// Params is a chosen plan: who moves what, how much, with which tool or beast.
type Params struct {
	Strategy Strategy        `cbor:"strategy" json:"strategy"`
	Target   model.Ref       `cbor:"target" json:"target"`
	Quantity int             `cbor:"quantity" json:"quantity"`
	Workers  []model.ActorID `cbor:"workers" json:"workers"`
	// Tool is the cart or the panniers.
	Tool  model.ItemID  `cbor:"tool,omitempty" json:"tool,omitempty"`
	Beast model.ActorID `cbor:"beast,omitempty" json:"beast,omitempty"`
}

func (p Params) Ok() bool { return p.Strategy != None }
