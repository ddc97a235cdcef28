package kernel

import "runtime"

// currentGID extracts the running goroutine's id from the stack header
// ("goroutine N [...]"). The reference kernel keys its thread registry on
// it so that Current works from anywhere inside a thread body.
func currentGID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	// Skip "goroutine ".
	var id int64
	for _, c := range buf[10:n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
