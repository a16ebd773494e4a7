package rdma

import (
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/fabric"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// avCacheSize bounds the resolved-address cache per connection. A
// single RDMA connection talks to exactly one remote endpoint set, so
// this only ever holds num_endpoints entries. The cache belongs to one
// endpointSet and is consulted once per endpoint during bring-up; it is
// discarded with the set, so a later establish resolves addresses again.
const avCacheSize = maxEndpoints

// endpointSet is the bring-up result for one side of an RDMA
// connection: num_endpoints fabric endpoints sharing endpoint 0's CQ
// on the receive side (spec §4.5.1 step 3), plus the address vector
// used to resolve the remote side for sends.
type endpointSet struct {
	eps      []fabric.Endpoint
	av       fabric.AddressVector
	avCache  *lru.Cache[string, fabric.Address]
	remotes  []fabric.Address // resolved once at bring-up, indexed like eps
}

// bringUpEndpoints opens cfg.NumEndpoints endpoints against domain,
// following spec §4.5.1 steps 2-4: endpoint i binds local port+i; for
// receivers, endpoints 1..N-1 share endpoint 0's CQ so a single reactor
// drains all of them, while transmitters keep one CQ per endpoint since
// each posts sends independently.
//
// On any failure it rolls back every endpoint opened so far and
// aggregates the close errors with go-multierror before returning.
func bringUpEndpoints(domain fabric.Domain, cfg Config, isReceiver bool) (*endpointSet, mesherr.Result) {
	av, err := domain.OpenAV()
	if err != nil {
		return nil, mesherr.Wrap(mesherr.ErrInitializationFailed, err, "open address vector")
	}
	cache, _ := lru.New[string, fabric.Address](avCacheSize)

	set := &endpointSet{av: av, avCache: cache}
	for i := 0; i < cfg.NumEndpoints; i++ {
		epCfg := fabric.EndpointConfig{
			LocalIP:    cfg.LocalAddr.IP,
			LocalPort:  cfg.LocalAddr.Port + i,
			RemoteIP:   cfg.RemoteAddr.IP,
			RemotePort: cfg.RemoteAddr.Port + i,
			Provider:   cfg.Provider,
			IsReceiver: isReceiver,
			CompMethod: cfg.CompMethod,
		}

		var sharedCQ fabric.CQ
		if isReceiver && i > 0 {
			sharedCQ = set.eps[0].CQ()
		}

		ep, err := domain.OpenEndpoint(epCfg, sharedCQ)
		if err != nil {
			rollbackErr := set.closeAll()
			result := mesherr.Wrap(mesherr.ErrInitializationFailed, err, "open rdma endpoint")
			if rollbackErr != nil {
				result.Err = multierror.Append(result.Err, rollbackErr)
			}
			av.Close()
			return nil, result
		}
		set.eps = append(set.eps, ep)
	}

	if !isReceiver {
		for i, epCfg := range set.eps {
			_ = epCfg
			addr, err := set.resolve(i, cfg.RemoteAddr.IP, cfg.RemoteAddr.Port+i)
			if err != nil {
				set.closeAll()
				av.Close()
				return nil, mesherr.Wrap(mesherr.ErrInitializationFailed, err, "resolve remote address vector entry")
			}
			set.remotes = append(set.remotes, addr)
		}
	}

	return set, mesherr.Ok()
}

// resolve looks up (ip,port) in the AV cache, falling back to
// av.Insert and caching the result.
func (s *endpointSet) resolve(epIndex int, ip string, port int) (fabric.Address, error) {
	key := cacheKey(ip, port)
	if addr, ok := s.avCache.Get(key); ok {
		return addr, nil
	}
	addr, err := s.av.Insert(ip, port)
	if err != nil {
		return 0, err
	}
	s.avCache.Add(key, addr)
	return addr, nil
}

func cacheKey(ip string, port int) string {
	buf := make([]byte, 0, len(ip)+8)
	buf = append(buf, ip...)
	buf = append(buf, ':')
	for port > 0 {
		buf = append(buf, byte('0'+port%10))
		port /= 10
	}
	return string(buf)
}

// closeAll tears endpoints down highest-index first (spec §4.5.5
// shutdown sequence step "endpoints are destroyed highest index
// first, since endpoint 0 owns the shared CQ the others still
// reference"), aggregating any close errors.
func (s *endpointSet) closeAll() error {
	var merr *multierror.Error
	for i := len(s.eps) - 1; i >= 0; i-- {
		if err := s.eps[i].Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	s.eps = nil
	return merr.ErrorOrNil()
}
