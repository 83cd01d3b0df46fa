//go:build (linux || darwin) && cgo

package native

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

typedef int32_t (*pv_int_func)(void);
typedef const char *(*pv_string_func)(void);
typedef int32_t (*pv_init_func)(const char *, int32_t, const char *const *, const float *, void **);
typedef int32_t (*pv_process_func)(void *, const int16_t *, int32_t *);
typedef void (*pv_delete_func)(void *);

static int32_t call_int(void *f) {
	return ((pv_int_func) f)();
}

static const char *call_string(void *f) {
	return ((pv_string_func) f)();
}

static int32_t call_init(void *f, const char *model, int32_t n, const char *const *keywords, const float *sensitivities, void **object) {
	return ((pv_init_func) f)(model, n, keywords, sensitivities, object);
}

static int32_t call_process(void *f, void *object, const int16_t *pcm, int32_t *index) {
	return ((pv_process_func) f)(object, pcm, index);
}

static void call_delete(void *f, void *object) {
	((pv_delete_func) f)(object);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/MrWong99/hotword/pkg/provider/detector"
)

// object is the engine's opaque instance pointer.
type object = unsafe.Pointer

type library struct {
	dl unsafe.Pointer

	initFn        unsafe.Pointer
	processFn     unsafe.Pointer
	deleteFn      unsafe.Pointer
	frameLengthFn unsafe.Pointer
	sampleRateFn  unsafe.Pointer
	versionFn     unsafe.Pointer
}

func openLibrary(path string) (*library, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	dl := C.dlopen(cpath, C.RTLD_NOW)
	if dl == nil {
		return nil, errors.New(C.GoString(C.dlerror()))
	}
	l := &library{dl: dl}

	syms := []struct {
		name string
		dst  *unsafe.Pointer
	}{
		{symInit, &l.initFn},
		{symProcess, &l.processFn},
		{symDelete, &l.deleteFn},
		{symFrameLength, &l.frameLengthFn},
		{symSampleRate, &l.sampleRateFn},
		{symVersion, &l.versionFn},
	}
	for _, s := range syms {
		cname := C.CString(s.name)
		p := C.dlsym(dl, cname)
		C.free(unsafe.Pointer(cname))
		if p == nil {
			C.dlclose(dl)
			return nil, fmt.Errorf("missing symbol %s", s.name)
		}
		*s.dst = p
	}
	return l, nil
}

func (l *library) init(modelPath string, keywordPaths []string, sensitivities []float32) (object, detector.Status) {
	cmodel := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cmodel))

	ckeywords := make([]*C.char, len(keywordPaths))
	for i, p := range keywordPaths {
		ckeywords[i] = C.CString(p)
	}
	defer func() {
		for _, p := range ckeywords {
			C.free(unsafe.Pointer(p))
		}
	}()

	var obj unsafe.Pointer
	status := C.call_init(l.initFn,
		cmodel,
		C.int32_t(len(keywordPaths)),
		(**C.char)(unsafe.Pointer(&ckeywords[0])),
		(*C.float)(unsafe.Pointer(&sensitivities[0])),
		&obj,
	)
	return obj, detector.Status(status)
}

func (l *library) process(obj object, pcm []int16) (int, detector.Status) {
	var index C.int32_t
	status := C.call_process(l.processFn,
		obj,
		(*C.int16_t)(unsafe.Pointer(&pcm[0])),
		&index,
	)
	return int(index), detector.Status(status)
}

func (l *library) delete(obj object) {
	C.call_delete(l.deleteFn, obj)
}

func (l *library) frameLength() int {
	return int(C.call_int(l.frameLengthFn))
}

func (l *library) sampleRate() int {
	return int(C.call_int(l.sampleRateFn))
}

func (l *library) version() string {
	return C.GoString(C.call_string(l.versionFn))
}

func (l *library) close() error {
	if C.dlclose(l.dl) != 0 {
		return fmt.Errorf("native: dlclose: %s", C.GoString(C.dlerror()))
	}
	return nil
}
