//go:build windows

package native

import (
	"fmt"
	"math"
	"syscall"
	"unsafe"

	"github.com/MrWong99/hotword/pkg/provider/detector"
)

// object is the engine's opaque instance pointer.
type object = uintptr

type library struct {
	dll *syscall.DLL

	initProc        *syscall.Proc
	processProc     *syscall.Proc
	deleteProc      *syscall.Proc
	frameLengthProc *syscall.Proc
	sampleRateProc  *syscall.Proc
	versionProc     *syscall.Proc
}

func openLibrary(path string) (*library, error) {
	dll, err := syscall.LoadDLL(path)
	if err != nil {
		return nil, err
	}
	l := &library{dll: dll}

	procs := []struct {
		name string
		dst  **syscall.Proc
	}{
		{symInit, &l.initProc},
		{symProcess, &l.processProc},
		{symDelete, &l.deleteProc},
		{symFrameLength, &l.frameLengthProc},
		{symSampleRate, &l.sampleRateProc},
		{symVersion, &l.versionProc},
	}
	for _, p := range procs {
		proc, err := dll.FindProc(p.name)
		if err != nil {
			_ = dll.Release()
			return nil, fmt.Errorf("missing symbol %s: %w", p.name, err)
		}
		*p.dst = proc
	}
	return l, nil
}

func (l *library) init(modelPath string, keywordPaths []string, sensitivities []float32) (object, detector.Status) {
	model, err := syscall.BytePtrFromString(modelPath)
	if err != nil {
		return 0, detector.StatusInvalidArgument
	}
	keywords := make([]*byte, len(keywordPaths))
	for i, p := range keywordPaths {
		if keywords[i], err = syscall.BytePtrFromString(p); err != nil {
			return 0, detector.StatusInvalidArgument
		}
	}

	var obj uintptr
	ret, _, _ := l.initProc.Call(
		uintptr(unsafe.Pointer(model)),
		uintptr(len(keywordPaths)),
		uintptr(unsafe.Pointer(&keywords[0])),
		uintptr(unsafe.Pointer(&sensitivities[0])),
		uintptr(unsafe.Pointer(&obj)),
	)
	return obj, detector.Status(int32(ret))
}

func (l *library) process(obj object, pcm []int16) (int, detector.Status) {
	var index int32
	ret, _, _ := l.processProc.Call(
		obj,
		uintptr(unsafe.Pointer(&pcm[0])),
		uintptr(unsafe.Pointer(&index)),
	)
	return int(index), detector.Status(int32(ret))
}

func (l *library) delete(obj object) {
	_, _, _ = l.deleteProc.Call(obj)
}

func (l *library) frameLength() int {
	ret, _, _ := l.frameLengthProc.Call()
	return int(int32(ret))
}

func (l *library) sampleRate() int {
	ret, _, _ := l.sampleRateProc.Call()
	return int(int32(ret))
}

func (l *library) version() string {
	ret, _, _ := l.versionProc.Call()
	if ret == 0 {
		return ""
	}
	p := (*byte)(unsafe.Pointer(ret))
	n := 0
	for n < math.MaxInt16 && *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}

func (l *library) close() error {
	return l.dll.Release()
}
