package invariant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inv(id ID, deps ...ID) *Invariant {
	return &Invariant{ID: id, Statement: string(id), Type: TypeState, Criticality: CriticalityCritical, DependsOn: deps}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(inv("001")))
	assert.Error(t, r.Register(inv("001")))

	got, ok := r.Get("001")
	require.True(t, ok)
	assert.Equal(t, ID("001"), got.ID)
	_, ok = r.Get("999")
	assert.False(t, ok)
}

func TestIDsSorted(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(inv("102"), inv("001"), inv("050"))
	assert.Equal(t, []ID{"001", "050", "102"}, r.IDs())
}

func TestResolveOrdersByDependency(t *testing.T) {
	r := NewRegistry()
	// 004 depends on 001, 005 on 003; ties break by id.
	r.MustRegister(inv("001"), inv("003"), inv("004", "001"), inv("005", "003"))

	ordered, err := r.Resolve([]ID{"005", "004", "003", "001"})
	require.NoError(t, err)
	ids := make([]ID, len(ordered))
	for i, o := range ordered {
		ids[i] = o.ID
	}
	assert.Equal(t, []ID{"001", "003", "004", "005"}, ids)
}

func TestResolveIgnoresEdgesOutsideTheSet(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(inv("001"), inv("004", "001"))

	// 001 is not in the requested set, so 004 has no in-set dependencies.
	ordered, err := r.Resolve([]ID{"004"})
	require.NoError(t, err)
	require.Len(t, ordered, 1)
	assert.Equal(t, ID("004"), ordered[0].ID)
}

func TestResolveUnknownID(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(inv("001"))
	_, err := r.Resolve([]ID{"001", "404"})
	assert.Error(t, err)
}

func TestResolveCycle(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(inv("a", "b"), inv("b", "a"))
	_, err := r.Resolve([]ID{"a", "b"})
	assert.Error(t, err)
}

func TestDecayExpiry(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	i := inv("003")
	i.Decay = 10 * time.Second

	assert.True(t, i.Expired(now), "never verified")

	i.MarkVerified(now)
	assert.False(t, i.Expired(now.Add(10*time.Second)), "fresh at exactly the window")
	assert.True(t, i.Expired(now.Add(10*time.Second+time.Nanosecond)))

	noDecay := inv("001")
	assert.False(t, noDecay.Expired(now.Add(time.Hour)), "zero decay never expires")
}
