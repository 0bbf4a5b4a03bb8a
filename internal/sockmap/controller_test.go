package sockmap

import (
	"errors"
	"net"
	"testing"

	"github.com/cilium/ebpf"
	"gotest.tools/v3/assert"

	"github.com/ihciah/socks5-forwarder/internal/flowkey"
)

// fakeMap is a minimal in-memory stand-in for *ebpf.Map, good enough
// to exercise Controller's bookkeeping without a running kernel.
type fakeMap struct {
	entries map[interface{}]interface{}
	failPut bool
	failDel bool
}

func newFakeMap() *fakeMap {
	return &fakeMap{entries: make(map[interface{}]interface{})}
}

func (m *fakeMap) Put(key, value interface{}) error {
	if m.failPut {
		return errors.New("fake: put failed")
	}
	m.entries[key] = value
	return nil
}

func (m *fakeMap) Lookup(key, valueOut interface{}) error {
	v, ok := m.entries[key]
	if !ok {
		return ebpf.ErrKeyNotExist
	}
	switch out := valueOut.(type) {
	case *uint32:
		*out = v.(uint32)
	default:
		panic("unsupported valueOut type in fakeMap.Lookup")
	}
	return nil
}

func (m *fakeMap) Delete(key interface{}) error {
	if m.failDel {
		return errors.New("fake: delete failed")
	}
	if _, ok := m.entries[key]; !ok {
		return ebpf.ErrKeyNotExist
	}
	delete(m.entries, key)
	return nil
}

func testKey(t *testing.T, port uint16) flowkey.Key {
	t.Helper()
	k, err := flowkey.Remote(net.ParseIP("127.0.0.1"), port)
	assert.NilError(t, err)
	return k
}

func TestAddDeleteRoundTrip(t *testing.T) {
	sm, idx := newFakeMap(), newFakeMap()
	c := newController(sm, idx, 4)

	key := testKey(t, 1)
	assert.NilError(t, c.Add(11, key))
	assert.Equal(t, len(sm.entries), 1)
	assert.Equal(t, len(idx.entries), 1)

	assert.NilError(t, c.Delete(key))
	assert.Equal(t, len(sm.entries), 0)
	assert.Equal(t, len(idx.entries), 0)
}

// I1: after every operation, both maps are either populated for a
// given slot, or both absent.
func TestBothMapsStayInSync(t *testing.T) {
	sm, idx := newFakeMap(), newFakeMap()
	c := newController(sm, idx, 4)

	for i := uint16(0); i < 3; i++ {
		assert.NilError(t, c.Add(int(i), testKey(t, i)))
	}
	assert.Equal(t, len(sm.entries), len(idx.entries))

	assert.NilError(t, c.Delete(testKey(t, 1)))
	assert.Equal(t, len(sm.entries), len(idx.entries))
	assert.Equal(t, len(sm.entries), 2)
}

// I2: the allocator never hands out a live slot twice.
func TestAllocatorNeverDoubleAllocatesLiveSlot(t *testing.T) {
	sm, idx := newFakeMap(), newFakeMap()
	c := newController(sm, idx, 2)

	assert.NilError(t, c.Add(1, testKey(t, 1)))
	assert.NilError(t, c.Add(2, testKey(t, 2)))

	// capacity exhausted: third add must fail, not silently reuse slot 0 or 1.
	err := c.Add(3, testKey(t, 3))
	assert.ErrorIs(t, err, ErrCapacityExhausted)

	assert.NilError(t, c.Delete(testKey(t, 1)))
	// now a slot is free again and reuse must succeed.
	assert.NilError(t, c.Add(4, testKey(t, 4)))
}

// After delete(k) returns, a subsequent add(_, k) succeeds with a
// possibly different slot.
func TestReAddAfterDeleteUsesFreshSlot(t *testing.T) {
	sm, idx := newFakeMap(), newFakeMap()
	c := newController(sm, idx, 4)

	key := testKey(t, 1)
	assert.NilError(t, c.Add(10, key))
	assert.NilError(t, c.Delete(key))
	assert.NilError(t, c.Add(11, key))
	assert.Equal(t, idx.entries[key], uint32(0)) // dense allocator reuses slot 0
}

func TestDeleteOfAbsentKeyIsNoopSuccess(t *testing.T) {
	sm, idx := newFakeMap(), newFakeMap()
	c := newController(sm, idx, 4)
	assert.NilError(t, c.Delete(testKey(t, 99)))
}

func TestAddRollsBackOnSockmapFailure(t *testing.T) {
	sm, idx := newFakeMap(), newFakeMap()
	sm.failPut = true
	c := newController(sm, idx, 4)

	err := c.Add(1, testKey(t, 1))
	assert.ErrorContains(t, err, "sockmap put")
	assert.Equal(t, len(idx.entries), 0) // rolled back
	assert.Equal(t, c.InUse(), 0)        // slot released
}

func TestDeleteReportsInconsistentStateAsFatal(t *testing.T) {
	sm, idx := newFakeMap(), newFakeMap()
	c := newController(sm, idx, 4)

	key := testKey(t, 1)
	assert.NilError(t, c.Add(1, key))

	sm.failDel = true
	err := c.Delete(key)
	assert.ErrorIs(t, err, ErrInconsistentState)
}
