//go:build linux

package runtime

import "golang.org/x/sys/unix"

// currentOwnerID returns the kernel thread id. While the main loop holds its
// thread with LockOSThread no other goroutine can observe the same id.
func currentOwnerID() int64 {
	return int64(unix.Gettid())
}
