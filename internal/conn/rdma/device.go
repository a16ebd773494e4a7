package rdma

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sony/gobreaker"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/fabric"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// deviceHandle is the process-wide fabric/domain singleton (spec
// §4.5.1 step 1: "the fabric and domain are opened once per process,
// behind a mutex, and refcounted"; §5 "the fabric/domain is destroyed
// only when the last RDMA connection in the process releases it").
type deviceHandle struct {
	mu     sync.Mutex
	refs   int
	dev    fabric.Device
	domain fabric.Domain
	dial   fabric.Dial
}

var globalDevice = &deviceHandle{
	dial: fabric.NewSimulatedDevice,
}

// bringUpBreaker guards the dial+OpenDomain bring-up sequence. Actual
// RDMA fabric initialization touches kernel/NIC state that can wedge
// under repeated failure (driver reset in progress, exhausted verbs
// contexts); tripping the breaker after a run of failures avoids
// hammering a fabric that is not going to come up.
var bringUpBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
	Name:        "rdma-fabric-bringup",
	MaxRequests: 1,
	Interval:    0,
	Timeout:     10 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	},
})

// acquireDevice opens the fabric/domain on the first call and returns
// the shared domain plus a release func on every call; refs tracks how
// many RdmaTx/RdmaRx connections currently hold it open.
func acquireDevice(provider fabric.Provider) (fabric.Domain, func() mesherr.Result, mesherr.Result) {
	globalDevice.mu.Lock()
	defer globalDevice.mu.Unlock()

	if globalDevice.refs == 0 {
		result, err := bringUpBreaker.Execute(func() (interface{}, error) {
			dev, err := globalDevice.dial(provider)
			if err != nil {
				return nil, err
			}
			dom, err := dev.OpenDomain()
			if err != nil {
				dev.Close()
				return nil, err
			}
			globalDevice.dev = dev
			return dom, nil
		})
		if err != nil {
			return nil, nil, mesherr.Wrap(mesherr.ErrInitializationFailed, err, "bring up rdma fabric/domain")
		}
		globalDevice.domain = result.(fabric.Domain)
	}
	globalDevice.refs++

	release := func() mesherr.Result {
		globalDevice.mu.Lock()
		defer globalDevice.mu.Unlock()
		globalDevice.refs--
		if globalDevice.refs > 0 {
			return mesherr.Ok()
		}
		var merr *multierror.Error
		if err := globalDevice.domain.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
		if err := globalDevice.dev.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
		globalDevice.domain = nil
		globalDevice.dev = nil
		if merr.ErrorOrNil() != nil {
			return mesherr.New(mesherr.ErrGeneralFailure, merr)
		}
		return mesherr.Ok()
	}
	return globalDevice.domain, release, mesherr.Ok()
}
