package canvas

// The kind of drawing operation an action records
type ActionType string

const (
	ActionLine      ActionType = "line"
	ActionTriangle  ActionType = "triangle"
	ActionRectangle ActionType = "rectangle"
	ActionOval      ActionType = "oval"
	ActionFreeDraw  ActionType = "freedraw"
	ActionEraser    ActionType = "eraser"
	ActionText      ActionType = "text"
)

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Action is one immutable drawing operation. Two-endpoint kinds (line,
// triangle, rectangle, oval, text) use X1/Y1/X2/Y2; freedraw and eraser
// carry the dragged point sequence instead. Actions are never edited once
// recorded; undo and redo remove and re-add whole actions.
type Action struct {
	StrokeID    int64      `json:"stroke_id"`
	Owner       string     `json:"owner"`
	Type        ActionType `json:"type"`
	X1          float32    `json:"x1,omitempty"`
	Y1          float32    `json:"y1,omitempty"`
	X2          float32    `json:"x2,omitempty"`
	Y2          float32    `json:"y2,omitempty"`
	Points      []Point    `json:"points,omitempty"`
	Color       string     `json:"color"`
	StrokeWidth float32    `json:"stroke_width"`
	Text        string     `json:"text,omitempty"`
}

// Reports whether the action carries a point sequence rather than
// two-endpoint geometry.
func (a Action) HasPoints() bool {
	return a.Type == ActionFreeDraw || a.Type == ActionEraser
}

// Clone returns a copy that shares no mutable state with the original.
func (a Action) Clone() Action {
	c := a
	if a.Points != nil {
		c.Points = make([]Point, len(a.Points))
		copy(c.Points, a.Points)
	}
	return c
}

// CloneAll deep-copies a history so callers cannot mutate server state
// through a returned snapshot.
func CloneAll(history []Action) []Action {
	out := make([]Action, len(history))
	for i, a := range history {
		out[i] = a.Clone()
	}
	return out
}
