package bkgsub

// Per-pixel data-quality flags. DQDoNotUse is the reserved "do not use this
// pixel" bit; the remaining values cover the conditions the detectors report
// most often.
const (
	DQDoNotUse  uint32 = 1
	DQSaturated uint32 = 2
	DQJumpDet   uint32 = 4
	DQDropout   uint32 = 8
)

// usableDQ reports whether the do-not-use bit is clear in dq. The flag is
// tested by flipping just that bit with XOR and checking it is then set.
func usableDQ(dq uint32) bool {
	return (dq^DQDoNotUse)&DQDoNotUse != 0
}
