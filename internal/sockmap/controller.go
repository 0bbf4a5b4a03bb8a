// Package sockmap is the userspace facade over the two kernel maps
// that back the stream-verdict redirect: the socket-map (slot -> fd)
// and the lookup map (flow key -> slot). It is the sole writer of
// both, and the only place slot indices are allocated or released.
package sockmap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cilium/ebpf"

	"github.com/ihciah/socks5-forwarder/internal/flowkey"
)

// Capacity is the compile-time size of both kernel maps.
const Capacity = 10240

var (
	// ErrCapacityExhausted is returned by Add when every slot is in
	// use; callers must fall back to userspace copy rather than drop
	// the connection (I5).
	ErrCapacityExhausted = errors.New("sockmap: slot capacity exhausted")

	// ErrInconsistentState means a map mutation left the lookup map
	// and socket map out of sync for a released slot. Per the spec's
	// error-handling design this breaks I1 and callers must treat it
	// as fatal for the process rather than continue.
	ErrInconsistentState = errors.New("sockmap: lookup map and socket map are out of sync")
)

// kernelMap is the subset of *ebpf.Map the controller needs. Tests
// substitute an in-memory stub so I1/I2/I3 can be verified without a
// running kernel or root.
type kernelMap interface {
	Put(key, value interface{}) error
	Lookup(key, valueOut interface{}) error
	Delete(key interface{}) error
}

// Controller is the sole writer of the socket-map/lookup-map pair. It
// holds a mutex for the duration of each operation so that add/delete
// pairs are atomic with respect to one another.
type Controller struct {
	mu      sync.Mutex
	sockmap kernelMap
	idxMap  kernelMap
	slots   *slotAllocator
}

// NewController builds a Controller over the two loaded kernel maps
// exposed by probe.Probe.
func NewController(sockmapHandle, idxMapHandle *ebpf.Map) *Controller {
	return newController(sockmapHandle, idxMapHandle, Capacity)
}

func newController(sockmapHandle, idxMapHandle kernelMap, capacity uint32) *Controller {
	return &Controller{
		sockmap: sockmapHandle,
		idxMap:  idxMapHandle,
		slots:   newSlotAllocator(capacity),
	}
}

// NewControllerWithMaps builds a Controller over any pair of values
// satisfying the Put/Lookup/Delete method set that *ebpf.Map exposes.
// It exists so packages that drive a Controller (supervisor, in
// particular) can exercise it against an in-memory stub in tests,
// without linking a running kernel or requiring root.
func NewControllerWithMaps(sockmapHandle, idxMapHandle interface {
	Put(key, value interface{}) error
	Lookup(key, valueOut interface{}) error
	Delete(key interface{}) error
}, capacity uint32) *Controller {
	return newController(sockmapHandle, idxMapHandle, capacity)
}

// Add allocates a fresh slot and enrolls fd under key. On failure
// partial state is rolled back and the slot is released; if the
// rollback of the lookup-map entry itself fails, Add returns
// ErrInconsistentState.
func (c *Controller) Add(fd int, key flowkey.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.slots.alloc()
	if !ok {
		return ErrCapacityExhausted
	}

	if err := c.idxMap.Put(key, slot); err != nil {
		c.slots.release(slot)
		return fmt.Errorf("sockmap: idx_map put: %w", err)
	}

	if err := c.sockmap.Put(slot, uint32(fd)); err != nil {
		if delErr := c.idxMap.Delete(key); delErr != nil {
			c.slots.release(slot)
			return fmt.Errorf("%w: sockmap put failed (%v), idx_map rollback failed (%v)", ErrInconsistentState, err, delErr)
		}
		c.slots.release(slot)
		return fmt.Errorf("sockmap: sockmap put: %w", err)
	}

	return nil
}

// Delete removes the entry for key, if any, and releases its slot.
// Absent keys are a no-op success.
func (c *Controller) Delete(key flowkey.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var slot uint32
	if err := c.idxMap.Lookup(key, &slot); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return nil
		}
		return fmt.Errorf("sockmap: idx_map lookup: %w", err)
	}

	idxErr := c.idxMap.Delete(key)
	sockErr := c.sockmap.Delete(slot)
	c.slots.release(slot)

	switch {
	case idxErr != nil && sockErr != nil:
		return fmt.Errorf("%w: idx_map delete: %v, sockmap delete: %v", ErrInconsistentState, idxErr, sockErr)
	case idxErr != nil:
		return fmt.Errorf("%w: idx_map delete: %v", ErrInconsistentState, idxErr)
	case sockErr != nil:
		return fmt.Errorf("%w: sockmap delete: %v", ErrInconsistentState, sockErr)
	}
	return nil
}

// InUse reports the number of live slots, for metrics.
func (c *Controller) InUse() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots.inUse()
}
