// Command shmpipe-abi builds a C-callable shared library exposing SHMPIPE's
// responder side, for embedding in a WAL-redo worker binary that isn't
// written in Go. Build with `go build -buildmode=c-shared` (or
// c-archive) to produce the matching .h header alongside the library.
package main

import "C"

import (
	"runtime/cgo"
	"unsafe"

	"github.com/neonlabs/walcore"
	"github.com/neonlabs/walcore/shmpipe"
)

//export shmempipe_open_via_env
func shmempipe_open_via_env() C.uintptr_t {
	rs, err := shmpipe.OpenViaEnv()
	if err != nil {
		return 0
	}
	return C.uintptr_t(cgo.NewHandle(rs))
}

//export shmempipe_read_frame_len
func shmempipe_read_frame_len(handle C.uintptr_t, outLen *C.uint32_t) C.int {
	rs, ok := responderFromHandle(handle)
	if !ok {
		return -1
	}
	n, err := rs.ReadNextFrameLen()
	if err != nil {
		if walcore.IsCode(err, walcore.ErrCodeFrameInProgress) {
			return -2
		}
		return -1
	}
	*outLen = C.uint32_t(n)
	return 0
}

//export shmempipe_read
func shmempipe_read(handle C.uintptr_t, buf *C.uint8_t, bufLen C.size_t) C.int {
	rs, ok := responderFromHandle(handle)
	if !ok {
		return -1
	}
	p := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(bufLen))
	n, err := rs.Read(p)
	if err != nil {
		return -1
	}
	return C.int(n)
}

//export shmempipe_read_exact
func shmempipe_read_exact(handle C.uintptr_t, buf *C.uint8_t, bufLen C.size_t) C.int {
	rs, ok := responderFromHandle(handle)
	if !ok {
		return -1
	}
	p := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(bufLen))
	if err := rs.ReadExact(p); err != nil {
		return -1
	}
	return 0
}

//export shmempipe_write_all
func shmempipe_write_all(handle C.uintptr_t, buf *C.uint8_t, bufLen C.size_t) C.int {
	rs, ok := responderFromHandle(handle)
	if !ok {
		return -1
	}
	p := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(bufLen))
	if err := rs.WriteAll(p); err != nil {
		return -1
	}
	return 0
}

//export shmempipe_destroy
func shmempipe_destroy(handle C.uintptr_t) {
	cgo.Handle(handle).Delete()
}

func responderFromHandle(handle C.uintptr_t) (*shmpipe.Responder, bool) {
	v := cgo.Handle(handle).Value()
	rs, ok := v.(*shmpipe.Responder)
	return rs, ok
}

func main() {}
