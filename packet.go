package aqmsim

// packet.go holds the Packet record that moves from the producer, through the
// bounded queue and the link, to the consumer, together with the Item wrapper
// that lets an end-of-stream marker travel the same path

import (
	"fmt"
)

// Packet carries an identity, a size, and the times at which it passed each
// stage of the pipeline.  All times are in seconds relative to the start of the run.
// Each time is written exactly once, in the order the fields are declared.
type Packet struct {
	ID   int `json:"id" yaml:"id"`
	Size int `json:"size" yaml:"size"` // bytes

	CreationTime     float64 `json:"creation" yaml:"creation"`         // stamped by the producer
	ArrivalTime      float64 `json:"arrival" yaml:"arrival"`           // stamped by the queue on entry
	DeliveryTime     float64 `json:"delivery" yaml:"delivery"`         // last bit off the link
	ServiceStartTime float64 `json:"servicestart" yaml:"servicestart"` // service begins
	CompletionTime   float64 `json:"completion" yaml:"completion"`     // service ends

	// set by the queue when the packet is handed to the consumer
	dequeued  float64
	completed bool
}

// createPacket is a constructor
func createPacket(id, size int, now float64) *Packet {
	return &Packet{ID: id, Size: size, CreationTime: now}
}

// QueueingDelay is the time between reaching the queue input and the start of service
func (p *Packet) QueueingDelay() float64 {
	return p.ServiceStartTime - p.ArrivalTime
}

// SojournAt gives the time the packet has spent in the queue as of now
func (p *Packet) SojournAt(now float64) float64 {
	return now - p.ArrivalTime
}

// Completed reports whether the packet has finished service
func (p *Packet) Completed() bool {
	return p.completed
}

// Equal compares packets by identifier
func (p *Packet) Equal(other *Packet) bool {
	return other != nil && p.ID == other.ID
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet %d (%d bytes)", p.ID, p.Size)
}

// ItemKind distinguishes data from the end-of-stream marker
type ItemKind int

const (
	DataItem ItemKind = iota
	EndOfStreamItem
)

var itemKindToStr map[ItemKind]string = map[ItemKind]string{DataItem: "data", EndOfStreamItem: "eos"}

func (k ItemKind) String() string {
	return itemKindToStr[k]
}

// Item is what the queue holds: either a packet or the marker the producer
// pushes once its source is exhausted
type Item struct {
	Kind   ItemKind
	Packet *Packet
}

// Data wraps a packet
func Data(p *Packet) Item {
	return Item{Kind: DataItem, Packet: p}
}

// EndOfStream returns the marker item
func EndOfStream() Item {
	return Item{Kind: EndOfStreamItem}
}

// IsEndOfStream is true for the marker item
func (it Item) IsEndOfStream() bool {
	return it.Kind == EndOfStreamItem
}
