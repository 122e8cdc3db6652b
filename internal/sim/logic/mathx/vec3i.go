package mathx

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Vec3i is an integer position or extent in voxel or block space.
type Vec3i struct {
	X, Y, Z int
}

func V(x, y, z int) Vec3i { return Vec3i{X: x, Y: y, Z: z} }

// Splat returns a vector with all three components set to v.
func Splat(v int) Vec3i { return Vec3i{X: v, Y: v, Z: v} }

func (a Vec3i) Add(b Vec3i) Vec3i { return Vec3i{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3i) Sub(b Vec3i) Vec3i { return Vec3i{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3i) Mul(b Vec3i) Vec3i { return Vec3i{a.X * b.X, a.Y * b.Y, a.Z * b.Z} }
func (a Vec3i) Scale(k int) Vec3i { return Vec3i{a.X * k, a.Y * k, a.Z * k} }

// FloorDiv divides component-wise, rounding toward negative infinity.
func (a Vec3i) FloorDiv(b Vec3i) Vec3i {
	return Vec3i{FloorDiv(a.X, b.X), FloorDiv(a.Y, b.Y), FloorDiv(a.Z, b.Z)}
}

// Mod is the component-wise floor modulo; results are always in [0, b).
func (a Vec3i) Mod(b Vec3i) Vec3i {
	return Vec3i{Mod(a.X, b.X), Mod(a.Y, b.Y), Mod(a.Z, b.Z)}
}

// Shr is an arithmetic right shift, i.e. a floor division by 2^n.
func (a Vec3i) Shr(n uint) Vec3i {
	return Vec3i{a.X >> n, a.Y >> n, a.Z >> n}
}

func (a Vec3i) Volume() int { return a.X * a.Y * a.Z }

func (a Vec3i) DistanceSq(b Vec3i) int {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return dx*dx + dy*dy + dz*dz
}

// Get returns the component at axis i (0=X, 1=Y, 2=Z).
func (a Vec3i) Get(i int) int {
	switch i {
	case 0:
		return a.X
	case 1:
		return a.Y
	default:
		return a.Z
	}
}

func (a *Vec3i) Set(i, v int) {
	switch i {
	case 0:
		a.X = v
	case 1:
		a.Y = v
	default:
		a.Z = v
	}
}

// HasZero reports whether any component is <= 0.
func (a Vec3i) HasZero() bool { return a.X <= 0 || a.Y <= 0 || a.Z <= 0 }

func (a Vec3i) Clamp(lo, hi Vec3i) Vec3i {
	return Vec3i{ClampInt(a.X, lo.X, hi.X), ClampInt(a.Y, lo.Y, hi.Y), ClampInt(a.Z, lo.Z, hi.Z)}
}

func (a Vec3i) Min(b Vec3i) Vec3i {
	return Vec3i{min(a.X, b.X), min(a.Y, b.Y), min(a.Z, b.Z)}
}

// SortMinMax reorders a and b so that every component of the first result is
// <= the matching component of the second.
func SortMinMax(a, b Vec3i) (Vec3i, Vec3i) {
	return Vec3i{min(a.X, b.X), min(a.Y, b.Y), min(a.Z, b.Z)},
		Vec3i{max(a.X, b.X), max(a.Y, b.Y), max(a.Z, b.Z)}
}

// MaxCoord bounds world positions taken from outside the process. Past 2^24 a
// float32 no longer resolves single voxels.
const MaxCoord = 1 << 24

// InWorld reports whether every component of v is finite and within MaxCoord.
func InWorld(v mgl32.Vec3) bool {
	for _, c := range v {
		f := float64(c)
		if math.IsNaN(f) || math.Abs(f) > MaxCoord {
			return false
		}
	}
	return true
}

// InWorld reports whether every component lies in [-MaxCoord, MaxCoord].
func (a Vec3i) InWorld() bool {
	in := func(c int) bool { return c >= -MaxCoord && c <= MaxCoord }
	return in(a.X) && in(a.Y) && in(a.Z)
}

// FromVec3 floors a float position to the containing integer cell. Components
// are clamped to MaxCoord and NaN maps to 0.
func FromVec3(v mgl32.Vec3) Vec3i {
	return Vec3i{floorCoord(v[0]), floorCoord(v[1]), floorCoord(v[2])}
}

func floorCoord(c float32) int {
	f := math.Floor(float64(c))
	switch {
	case math.IsNaN(f):
		return 0
	case f > MaxCoord:
		return MaxCoord
	case f < -MaxCoord:
		return -MaxCoord
	}
	return int(f)
}

func (a Vec3i) Vec3() mgl32.Vec3 {
	return mgl32.Vec3{float32(a.X), float32(a.Y), float32(a.Z)}
}

func (a Vec3i) Array() [3]int { return [3]int{a.X, a.Y, a.Z} }

func (a Vec3i) String() string {
	return fmt.Sprintf("(%d, %d, %d)", a.X, a.Y, a.Z)
}
