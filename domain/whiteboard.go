package domain

import "time"

type OperationKind string

const (
	OperationDraw  OperationKind = "draw"
	OperationText  OperationKind = "text"
	OperationErase OperationKind = "erase"
	OperationClear OperationKind = "clear"
)

// Point is a canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// OperationMeta is carried by every whiteboard operation.
type OperationMeta struct {
	ID        string
	UserID    string
	Timestamp time.Time
}

func (m OperationMeta) Meta() OperationMeta { return m }

// WhiteboardOperation is one atomic drawing action.
// Implemented by DrawOperation, TextOperation, EraseOperation and ClearOperation.
type WhiteboardOperation interface {
	Meta() OperationMeta
	Kind() OperationKind
}

type DrawOperation struct {
	OperationMeta
	Points []Point
	Color  string
	Width  float64
}

func (DrawOperation) Kind() OperationKind { return OperationDraw }

type TextOperation struct {
	OperationMeta
	Position Point
	Text     string
	Color    string
	FontSize float64
}

func (TextOperation) Kind() OperationKind { return OperationText }

// EraseOperation removes earlier operations by id.
type EraseOperation struct {
	OperationMeta
	TargetIDs []string
}

func (EraseOperation) Kind() OperationKind { return OperationErase }

// ClearOperation discards every operation stamped before it and becomes the new log head.
type ClearOperation struct {
	OperationMeta
}

func (ClearOperation) Kind() OperationKind { return OperationClear }
