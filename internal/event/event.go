// Package event provides the append-only interaction log and follow-edge
// queries that feed the social graph and scoring engines.
package event

import (
	"errors"
	"time"
)

// Type identifies the kind of interaction a user had with an item.
type Type string

// Interaction types, ordered roughly by signal strength.
const (
	TypePublish Type = "publish"
	TypeShare   Type = "share"
	TypeLike    Type = "like"
	TypeComment Type = "comment"
	TypeCollect Type = "collect"
	TypeView    Type = "view"
)

// ErrInvalidType is returned when an interaction type is not recognized.
var ErrInvalidType = errors.New("invalid interaction type")

// typeWeights maps each interaction type to its base scoring weight.
// The table is shared by the affinity aggregator and the collaborative
// interaction matrix so the two engines agree on signal strength.
var typeWeights = map[Type]float64{
	TypePublish: 5,
	TypeShare:   4,
	TypeLike:    3,
	TypeComment: 3,
	TypeCollect: 2,
	TypeView:    1,
}

// Valid reports whether t is a recognized interaction type.
func (t Type) Valid() bool {
	_, ok := typeWeights[t]
	return ok
}

// Weight returns the base scoring weight for the interaction type.
// Unknown types weigh 0.
func (t Type) Weight() float64 {
	return typeWeights[t]
}

// Interaction is one immutable record in the interaction log.
type Interaction struct {
	Type       Type      `json:"type"`
	ActorID    string    `json:"actor_id"`
	ItemID     string    `json:"item_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
