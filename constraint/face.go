package constraint

import (
	"math"

	"github.com/nasa-jpl/vectormagnet/field"
)

// Face is one of the six faces of the limit box
type Face int

const (
	// PosX is the x = +XMax face
	PosX Face = iota
	// NegX is the x = -XMax face
	NegX
	// PosY is the y = +YMax face
	PosY
	// NegY is the y = -YMax face
	NegY
	// PosZ is the z = +ZMax face
	PosZ
	// NegZ is the z = -ZMax face
	NegZ
)

func (f Face) String() string {
	return [...]string{"+x", "-x", "+y", "-y", "+z", "-z"}[f]
}

// ExitFace returns the face of the limit box a ray from the origin along
// (theta, phi) leaves through, and the distance to it.
//
// The face is the one whose plane the ray meets first; the signs of the
// direction cosines select +/- faces, so the six cases follow the octant
// of the direction.
func (c Checker) ExitFace(theta, phi float64) (Face, float64) {
	u := field.ToCartesian(field.Spherical{Rho: 1, Theta: theta, Phi: phi})
	face, best := PosZ, math.Inf(1)
	try := func(comp, lim float64, pos, neg Face) {
		if comp == 0 {
			return
		}
		d := lim / math.Abs(comp)
		if d < best {
			best = d
			if comp > 0 {
				face = pos
			} else {
				face = neg
			}
		}
	}
	try(u.X, c.XMax, PosX, NegX)
	try(u.Y, c.YMax, PosY, NegY)
	try(u.Z, c.ZMax, PosZ, NegZ)
	return face, best
}
