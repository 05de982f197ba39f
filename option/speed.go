package option

// speedLadder is the fixed set of serial line speeds a modem option may
// snap to, per spec section 4.E. Values are ascending; SnapSpeed
// returns the first rung not below the requested speed, or the top
// rung for anything faster.
var speedLadder = []uint32{1200, 2400, 9600, 19200, 38400, 57600, 115200}

// SnapSpeed validates a requested serial speed by snapping it to the
// nearest rung at or above the request, matching ppp_getoption.c's
// range-snapping behaviour for PPP_OPT_DEV_SPEED.
func SnapSpeed(requested uint32) uint32 {
	for _, rung := range speedLadder {
		if requested <= rung {
			return rung
		}
	}
	return speedLadder[len(speedLadder)-1]
}
