package vision

import "math"

// solvePose estimates (range, bearing, yaw_offset) of the marker in
// the robot frame from its undistorted image-plane quad, the known
// marker side length, and the camera's intrinsics/extrinsics.
//
// The quad's apparent side length in pixels gives range by the
// pinhole similar-triangles relation (fx*sideM/pixelSide); the quad
// centroid's horizontal offset from the principal point gives
// bearing; the left/right side length ratio gives the marker's yaw
// relative to the camera's boresight. Range is then projected onto the
// ground by the camera's mounting tilt and shifted by its forward
// offset; bearing and yaw are returned as seen from the camera, and
// the mounting height is not used.
func solvePose(q RawQuad, intr Intrinsics, ext Extrinsics) (rangeM, bearingRad, yawRad float64, ok bool) {
	sideLengths := quadSideLengths(q.Corners)
	avgSide := (sideLengths[0] + sideLengths[1] + sideLengths[2] + sideLengths[3]) / 4
	if avgSide <= 0 || intr.K[0][0] <= 0 {
		return 0, 0, 0, false
	}

	fx := intr.K[0][0]
	cx := intr.K[0][2]

	cameraRange := fx * intr.MarkerSideM / avgSide

	cxQuad, _ := quadCentroid(q.Corners)
	bearingCamera := math.Atan((cxQuad - cx) / fx)

	leftSide := sideLengths[3]  // corner 3 -> corner 0
	rightSide := sideLengths[1] // corner 1 -> corner 2
	yawCamera := 0.0
	if leftSide+rightSide > 0 {
		yawCamera = math.Asin(clamp((rightSide-leftSide)/(rightSide+leftSide), -1, 1))
	}

	// Rotate from the camera's optical frame into the robot frame: the
	// camera looks forward and down by TiltRad, and sits ForwardOffsetM
	// ahead / HeightM above the robot's origin.
	groundRange := cameraRange * math.Cos(ext.TiltRad)
	robotRange := groundRange + ext.ForwardOffsetM

	return robotRange, bearingCamera, yawCamera, true
}

func quadSideLengths(c [4][2]float64) [4]float64 {
	var out [4]float64
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		dx := c[j][0] - c[i][0]
		dy := c[j][1] - c[i][1]
		out[i] = math.Hypot(dx, dy)
	}
	return out
}

func quadCentroid(c [4][2]float64) (float64, float64) {
	var sx, sy float64
	for _, p := range c {
		sx += p[0]
		sy += p[1]
	}
	return sx / 4, sy / 4
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
