//go:build !windows && !((linux || darwin) && cgo)

package native

import "github.com/MrWong99/hotword/pkg/provider/detector"

type object = uintptr

type library struct{}

func openLibrary(string) (*library, error) { return nil, ErrUnsupported }

func (*library) init(string, []string, []float32) (object, detector.Status) {
	return 0, detector.StatusInvalidArgument
}

func (*library) process(object, []int16) (int, detector.Status) {
	return detector.NoDetection, detector.StatusInvalidArgument
}

func (*library) delete(object) {}

func (*library) frameLength() int { return 0 }

func (*library) sampleRate() int { return 0 }

func (*library) version() string { return "" }

func (*library) close() error { return nil }
