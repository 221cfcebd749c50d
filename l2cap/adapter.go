package l2cap

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"github.com/patrickmn/go-cache"
	"github.com/smjoseph/btchat/bdaddr"
	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"
)

const routeKey = "route"

// LookupFunc finds the address of the local adapter to listen on.
type LookupFunc func() (bdaddr.Address, error)

// AdapterResolver finds the local adapter address and caches it. Concurrent
// lookups are collapsed into one HCI query.
type AdapterResolver struct {
	lookup LookupFunc
	ttl    time.Duration
	cache  *cache.Cache
	group  singleflight.Group
}

// NewAdapterResolver creates a resolver that caches a successful lookup for ttl.
// A nil lookup uses LookupHCIRoute.
//
// Parameters:
//   - lookup: Function that queries the adapter (nil for the HCI default)
//   - ttl: How long a found address stays cached
//
// Returns:
//   - A new *AdapterResolver
func NewAdapterResolver(lookup LookupFunc, ttl time.Duration) *AdapterResolver {
	if lookup == nil {
		lookup = LookupHCIRoute
	}

	return &AdapterResolver{
		lookup: lookup,
		ttl:    ttl,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Resolve returns the local adapter address. Failures are not cached.
func (r *AdapterResolver) Resolve(ctx context.Context) (bdaddr.Address, error) {
	if v, found := r.cache.Get(routeKey); found {
		return v.(bdaddr.Address), nil
	}

	if err := ctx.Err(); err != nil {
		return bdaddr.Any, err
	}

	v, err, _ := r.group.Do(routeKey, func() (interface{}, error) {
		if v, found := r.cache.Get(routeKey); found {
			return v, nil
		}

		addr, err := r.lookup()
		if err != nil {
			return bdaddr.Any, err
		}

		r.cache.Set(routeKey, addr, r.ttl)
		return addr, nil
	})
	if err != nil {
		return bdaddr.Any, err
	}

	return v.(bdaddr.Address), nil
}

// Forget drops the cached address so the next Resolve queries the adapter again.
func (r *AdapterResolver) Forget() {
	r.cache.Delete(routeKey)
}

// HCI ioctl requests, _IOR('H', 210|211, int).
const (
	hciGetDevList = 0x800448d2
	hciGetDevInfo = 0x800448d3
	hciMaxDev     = 16
	hciUpBit      = 0
)

type hciDevReq struct {
	devID  uint16
	devOpt uint32
}

type hciDevListReq struct {
	devNum uint16
	devReq [hciMaxDev]hciDevReq
}

type hciDevInfo struct {
	devID      uint16
	name       [8]byte
	bdaddr     [6]byte
	flags      uint32
	typ        uint8
	features   [8]uint8
	pktType    uint32
	linkPolicy uint32
	linkMode   uint32
	aclMtu     uint16
	aclPkts    uint16
	scoMtu     uint16
	scoPkts    uint16
	stat       [10]uint32
}

// LookupHCIRoute returns the address of the first local adapter that is up,
// the same choice BlueZ makes for hci_get_route(NULL).
func LookupHCIRoute() (bdaddr.Address, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return bdaddr.Any, fmt.Errorf("open hci socket: %w", err)
	}
	defer unix.Close(fd)

	dl := hciDevListReq{devNum: hciMaxDev}
	if err := ioctl(fd, hciGetDevList, unsafe.Pointer(&dl)); err != nil {
		return bdaddr.Any, fmt.Errorf("list hci devices: %w", err)
	}

	for i := 0; i < int(dl.devNum) && i < hciMaxDev; i++ {
		if dl.devReq[i].devOpt&(1<<hciUpBit) == 0 {
			continue
		}

		di := hciDevInfo{devID: dl.devReq[i].devID}
		if err := ioctl(fd, hciGetDevInfo, unsafe.Pointer(&di)); err != nil {
			return bdaddr.Any, fmt.Errorf("hci%d info: %w", di.devID, err)
		}

		return bdaddr.FromWire(di.bdaddr), nil
	}

	return bdaddr.Any, ErrNoAdapter
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}

	return nil
}
