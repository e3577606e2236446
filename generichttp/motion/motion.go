// Package motion provides an HTTP interface to motion controllers under
// /axis/{axis}/.
//
// A controller may implement any number of the interfaces in this package;
// Bind inspects it and adds the routes of each one it implements.  Values go
// over the wire as {"f64": v} and {"bool": b}.
package motion

import (
	"github.com/nasa-jpl/vectormagnet/generichttp"
)

// Bind adds routes to table for every motion interface c implements, and
// reports how many it found
func Bind(c interface{}, table generichttp.RouteTable) int {
	b := binder{table: table}
	b.known, _ = c.(AxisChecker)
	n := 0
	if m, ok := c.(Mover); ok {
		b.mover(m)
		n++
	}
	if s, ok := c.(Stopper); ok {
		b.stopper(s)
		n++
	}
	if s, ok := c.(Speeder); ok {
		b.speeder(s)
		n++
	}
	if q, ok := c.(InPositionQueryer); ok {
		b.inPosition(q)
		n++
	}
	return n
}
