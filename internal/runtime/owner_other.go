//go:build !linux

package runtime

import (
	"bytes"
	goruntime "runtime"
	"strconv"
)

// currentOwnerID returns the goroutine id parsed from the stack header
// ("goroutine 42 [running]:").
func currentOwnerID() int64 {
	var buf [64]byte
	n := goruntime.Stack(buf[:], false)
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i > 0 {
		field = field[:i]
	}
	id, err := strconv.ParseInt(string(field), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
