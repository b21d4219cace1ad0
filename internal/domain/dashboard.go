package domain

// GridLayout is the dashboard grid geometry.
type GridLayout struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Component is one widget on the canvas. Props carries the widget's
// arbitrary fields (type, position, config) as the client sent them.
type Component struct {
	ID    string         `json:"id"`
	Props map[string]any `json:"props"`
}

// LayoutSchema is the persisted shape of a dashboard document.
type LayoutSchema struct {
	Components []Component `json:"components"`
	Layout     GridLayout  `json:"layout"`
	Theme      string      `json:"theme"`
}

// DefaultLayout mirrors what the store seeds for a fresh dashboard.
func DefaultLayout() LayoutSchema {
	return LayoutSchema{
		Components: []Component{},
		Layout:     GridLayout{Rows: 12, Cols: 12},
		Theme:      "light",
	}
}
