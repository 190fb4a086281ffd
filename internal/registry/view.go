package registry

import "github.com/nerrad567/gray-logic-iobridge/internal/iopoint"

// View is a point-in-time copy of a device entry. It never changes after
// Get returns it.
type View struct {
	ID        string
	Adapter   string
	Connected bool
	Handle    any

	points []iopoint.Point
	values map[string]float64
}

// Value returns the last canonical value of a point.
func (v View) Value(point string) (float64, bool) {
	val, ok := v.values[point]
	return val, ok
}

// Point returns the declaration of a point.
func (v View) Point(name string) (iopoint.Point, bool) {
	for _, p := range v.points {
		if p.Name == name {
			return p, true
		}
	}
	return iopoint.Point{}, false
}

// Points returns the device's declared points.
func (v View) Points() []iopoint.Point {
	return append([]iopoint.Point(nil), v.points...)
}
