package st2110

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/st2110pipeline"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// deviceState (held in global) is the process-wide MTL-style pipeline singleton (spec
// §4.6: "lazily initialised on first use; its configuration is built
// from the first session's parameters"). Grounded on the teacher's
// lazy sync.Once-guarded provider pattern (cmd/fx.go's single
// ProvideSD/ProvidePubSub constructors) — one difference being that
// this device additionally tracks a refcount so it can be released
// when the last session stops, the same shape RDMA's device singleton
// uses.
type deviceState struct {
	once   sync.Once
	mu     sync.Mutex
	refs   int
	dev    st2110pipeline.Device
	dial   st2110pipeline.Dial
	initRes mesherr.Result
}

var global = &deviceState{dial: st2110pipeline.Simulated}

var bringUpBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
	Name:        "st2110-pipeline-bringup",
	MaxRequests: 1,
	Timeout:     10 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	},
})

// acquireDevice builds the pipeline device from cfg on the first call
// only; subsequent calls (even with different cfg, which the spec
// leaves undefined behavior for) share the same device.
func acquireDevice(cfg st2110pipeline.DeviceConfig) (st2110pipeline.Device, func(), mesherr.Result) {
	global.mu.Lock()
	defer global.mu.Unlock()

	global.once.Do(func() {
		result, err := bringUpBreaker.Execute(func() (interface{}, error) {
			return global.dial(cfg)
		})
		if err != nil {
			global.initRes = mesherr.Wrap(mesherr.ErrInitializationFailed, err, "bring up st2110 pipeline device")
			return
		}
		global.dev = result.(st2110pipeline.Device)
		global.initRes = mesherr.Ok()
	})
	if !global.initRes.OK() {
		return nil, nil, global.initRes
	}
	global.refs++

	release := func() {
		global.mu.Lock()
		defer global.mu.Unlock()
		global.refs--
		if global.refs == 0 {
			global.dev.Close()
			global.dev = nil
			global.once = sync.Once{}
		}
	}
	return global.dev, release, mesherr.Ok()
}
