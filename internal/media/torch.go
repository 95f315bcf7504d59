package media

import "sync"

// Torch switches the illumination of one device. The driver manager hides
// adapters behind its own wrappers, so torch-capable adapters register
// here under their driver label.
type Torch interface {
	SetTorch(on bool) error
}

var torches sync.Map

func RegisterTorch(label string, t Torch) {
	torches.Store(label, t)
}

func torchFor(label string) (Torch, bool) {
	v, ok := torches.Load(label)
	if !ok {
		return nil, false
	}
	return v.(Torch), true
}
