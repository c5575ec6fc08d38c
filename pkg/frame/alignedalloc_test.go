package frame

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestAlignedAlloc(t *testing.T) {
	for _, size := range []int{1, 3, 4095, 4096, 4097, 640 * 640 * 3} {
		buf := PageAlignedAlloc(size)
		require.Equal(t, size, len(buf))
		require.Equal(t, 0, int(uintptr(unsafe.Pointer(&buf[0]))%pageSize))
	}
}
