package geo

import "math"

// HPR is an orientation as heading, pitch and roll in radians. Heading is
// yaw about the local up axis, pitch about the right axis, roll about the
// forward axis, applied in that order.
type HPR struct {
	Heading float64 `json:"heading"`
	Pitch   float64 `json:"pitch"`
	Roll    float64 `json:"roll"`
}

func (o HPR) Valid() bool {
	return finite(o.Heading) && finite(o.Pitch) && finite(o.Roll)
}

// Quaternion is a rotation w + xi + yj + zk.
type Quaternion struct {
	W, X, Y, Z float64
}

func (a Quaternion) Mul(b Quaternion) Quaternion {
	return Quaternion{
		W: a.W*b.W - a.X*b.X - a.Y*b.Y - a.Z*b.Z,
		X: a.W*b.X + a.X*b.W + a.Y*b.Z - a.Z*b.Y,
		Y: a.W*b.Y - a.X*b.Z + a.Y*b.W + a.Z*b.X,
		Z: a.W*b.Z + a.X*b.Y - a.Y*b.X + a.Z*b.W,
	}
}

func (a Quaternion) Dot(b Quaternion) float64 {
	return a.W*b.W + a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

func (a Quaternion) Normalize() Quaternion {
	n := math.Sqrt(a.Dot(a))
	if n == 0 {
		return Quaternion{W: 1}
	}
	return Quaternion{a.W / n, a.X / n, a.Y / n, a.Z / n}
}

// FromHPR composes yaw(heading) * pitch * roll into a unit quaternion.
func FromHPR(o HPR) Quaternion {
	sh, ch := math.Sincos(o.Heading / 2)
	sp, cp := math.Sincos(o.Pitch / 2)
	sr, cr := math.Sincos(o.Roll / 2)
	return Quaternion{
		W: ch*cp*cr + sh*sp*sr,
		X: ch*cp*sr - sh*sp*cr,
		Y: ch*sp*cr + sh*cp*sr,
		Z: sh*cp*cr - ch*sp*sr,
	}
}

// HPR converts back to heading, pitch and roll. Pitch is clamped into
// [-pi/2, pi/2] against rounding at the poles.
func (a Quaternion) HPR() HPR {
	q := a.Normalize()
	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	sinp = math.Max(-1, math.Min(1, sinp))
	return HPR{
		Heading: math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z)),
		Pitch:   math.Asin(sinp),
		Roll:    math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y)),
	}
}

// Slerp interpolates along the shorter arc between a and b.
func Slerp(a, b Quaternion, t float64) Quaternion {
	a, b = a.Normalize(), b.Normalize()
	cos := a.Dot(b)
	if cos < 0 {
		b = Quaternion{-b.W, -b.X, -b.Y, -b.Z}
		cos = -cos
	}
	// Nearly parallel: fall back to normalized lerp.
	if cos > 0.9995 {
		return Quaternion{
			W: lerp(a.W, b.W, t),
			X: lerp(a.X, b.X, t),
			Y: lerp(a.Y, b.Y, t),
			Z: lerp(a.Z, b.Z, t),
		}.Normalize()
	}
	theta := math.Acos(cos)
	sin := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sin
	wb := math.Sin(t*theta) / sin
	return Quaternion{
		W: wa*a.W + wb*b.W,
		X: wa*a.X + wb*b.X,
		Y: wa*a.Y + wb*b.Y,
		Z: wa*a.Z + wb*b.Z,
	}
}

// SlerpHPR interpolates two orientations through quaternion space.
func SlerpHPR(a, b HPR, t float64) HPR {
	return Slerp(FromHPR(a), FromHPR(b), t).HPR()
}
