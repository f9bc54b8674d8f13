package dhcpbind

import (
	"net/netip"
	"testing"

	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIPRange(t *testing.T) {
	t.Parallel()

	start4 := netip.MustParseAddr("0.0.0.1")
	end4 := netip.MustParseAddr("0.0.0.3")
	start6 := netip.MustParseAddr("1::1")
	end6 := netip.MustParseAddr("1::2")
	end6Large := netip.MustParseAddr("2::1")

	testCases := []struct {
		start      netip.Addr
		end        netip.Addr
		name       string
		wantErrMsg string
	}{{
		start:      start4,
		end:        end4,
		name:       "success_ipv4",
		wantErrMsg: "",
	}, {
		start:      start6,
		end:        end6,
		name:       "success_ipv6",
		wantErrMsg: "",
	}, {
		start:      start4,
		end:        start4,
		name:       "single_address",
		wantErrMsg: "",
	}, {
		start: end4,
		end:   start4,
		name:  "start_gt_end",
		wantErrMsg: "invalid ip range: start 0.0.0.3 is greater than " +
			"end 0.0.0.1",
	}, {
		start: start4,
		end:   end6,
		name:  "diff_family",
		wantErrMsg: "invalid ip range: 0.0.0.1 and 1::2 must be within the " +
			"same address family",
	}, {
		start:      start6,
		end:        end6Large,
		name:       "too_large",
		wantErrMsg: "invalid ip range: range length must be within 4294967295",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := newIPRange(tc.start, tc.end)
			testutil.AssertErrorMsg(t, tc.wantErrMsg, err)
		})
	}
}

func TestIPRange_offset(t *testing.T) {
	t.Parallel()

	r, err := newIPRange(netip.MustParseAddr("192.0.2.254"), netip.MustParseAddr("192.0.3.1"))
	require.NoError(t, err)

	assert.Equal(t, uint64(4), r.size())

	testCases := []struct {
		in      netip.Addr
		name    string
		wantOff uint64
		wantOK  bool
	}{{
		in:      netip.MustParseAddr("192.0.2.254"),
		name:    "first",
		wantOff: 0,
		wantOK:  true,
	}, {
		in:      netip.MustParseAddr("192.0.3.0"),
		name:    "carry",
		wantOff: 2,
		wantOK:  true,
	}, {
		in:      netip.MustParseAddr("192.0.3.1"),
		name:    "last",
		wantOff: 3,
		wantOK:  true,
	}, {
		in:      netip.MustParseAddr("192.0.3.2"),
		name:    "out_of_range",
		wantOff: 0,
		wantOK:  false,
	}, {
		in:      netip.MustParseAddr("::ffff:192.0.2.254"),
		name:    "mapped",
		wantOff: 0,
		wantOK:  false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			off, ok := r.offset(tc.in)
			assert.Equal(t, tc.wantOff, off)
			assert.Equal(t, tc.wantOK, ok)

			if ok {
				assert.Equal(t, tc.in, r.at(off))
			}
		})
	}
}

func TestPrefixRange(t *testing.T) {
	t.Parallel()

	base := netip.MustParsePrefix("2001:db8:100::/56")

	r, err := newPrefixRange(base, 64)
	require.NoError(t, err)

	assert.Equal(t, uint64(256), r.size())
	assert.Equal(t, netip.MustParseAddr("2001:db8:100::"), r.at(0))
	assert.Equal(t, netip.MustParseAddr("2001:db8:100:ff::"), r.at(255))

	off, ok := r.offset(netip.MustParseAddr("2001:db8:100:2a::"))
	require.True(t, ok)

	assert.Equal(t, uint64(0x2a), off)

	_, ok = r.offset(netip.MustParseAddr("2001:db8:100:2a::1"))
	assert.False(t, ok)

	first, last := r.bounds()
	assert.Equal(t, netip.MustParseAddr("2001:db8:100::"), first)
	assert.Equal(t, netip.MustParseAddr("2001:db8:100:ff:ffff:ffff:ffff:ffff"), last)

	_, err = newPrefixRange(base, 72)
	testutil.AssertErrorMsg(
		t,
		"invalid prefix range: delegated length 72 must be within 56 and 64",
		err,
	)

	_, err = newPrefixRange(netip.MustParsePrefix("192.0.2.0/24"), 28)
	testutil.AssertErrorMsg(
		t,
		"invalid prefix range: base 192.0.2.0/24 must be a valid ipv6 prefix",
		err,
	)
}

func TestOverlaps(t *testing.T) {
	t.Parallel()

	newRange := func(start, end string) (r ipRange) {
		r, err := newIPRange(netip.MustParseAddr(start), netip.MustParseAddr(end))
		require.NoError(t, err)

		return r
	}

	pr, err := newPrefixRange(netip.MustParsePrefix("2001:db8::/48"), 56)
	require.NoError(t, err)

	testCases := []struct {
		a    addrSpace
		b    addrSpace
		name string
		want assert.BoolAssertionFunc
	}{{
		a:    newRange("192.0.2.1", "192.0.2.10"),
		b:    newRange("192.0.2.10", "192.0.2.20"),
		name: "common_end",
		want: assert.True,
	}, {
		a:    newRange("192.0.2.1", "192.0.2.10"),
		b:    newRange("192.0.2.11", "192.0.2.20"),
		name: "adjacent",
		want: assert.False,
	}, {
		a:    newRange("192.0.2.1", "192.0.2.10"),
		b:    newRange("2001:db8::1", "2001:db8::10"),
		name: "diff_family",
		want: assert.False,
	}, {
		a:    pr,
		b:    newRange("2001:db8:0:ff::1", "2001:db8:0:ff::ffff"),
		name: "prefix_and_range",
		want: assert.True,
	}, {
		a:    pr,
		b:    newRange("2001:db8:1::1", "2001:db8:1::ffff"),
		name: "prefix_and_range_outside",
		want: assert.False,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tc.want(t, overlaps(tc.a, tc.b))
			tc.want(t, overlaps(tc.b, tc.a))
		})
	}
}

func TestBitSet(t *testing.T) {
	t.Parallel()

	s := newBitSet()
	for n := range uint64(bitsPerWord) {
		s.set(n, true)
	}

	assert.True(t, s.isFull(0))
	assert.True(t, s.isFull(bitsPerWord-1))
	assert.False(t, s.isFull(bitsPerWord))

	s.set(bitsPerWord+1, true)
	assert.True(t, s.isSet(bitsPerWord+1))
	assert.False(t, s.isSet(bitsPerWord))

	s.set(bitsPerWord+1, false)
	assert.Len(t, s.words, 1)

	var nilSet *bitSet
	assert.False(t, nilSet.isSet(0))
	assert.NotPanics(t, func() { nilSet.set(0, true) })
}

func TestPool_nextFree(t *testing.T) {
	t.Parallel()

	p, err := newPool(&PoolConfig{
		Start:         netip.MustParseAddr("10.0.0.0"),
		End:           netip.MustParseAddr("10.0.0.255"),
		ValidLifetime: testValid,
	})
	require.NoError(t, err)

	req := &Request{
		Link:     &Link{Name: "test"},
		ClientID: []byte{1},
		IAType:   IATypeV4,
	}

	for i := range bitsPerWord + 2 {
		addr, ok := p.nextFree(testStart)
		require.True(t, ok)
		require.Equal(t, uint64(i), offsetOf(t, p, addr))

		b := p.newBinding(req, addr)
		b.IAID = uint32(i)
		b.Expiry = testStart.Add(testValid)
		p.add(b)
	}

	assert.True(t, p.occupied.isFull(0))
	assert.Equal(t, bitsPerWord+2, p.used())

	b := p.byAddr[netip.MustParseAddr("10.0.0.5")]
	p.remove(b)

	addr, ok := p.nextFree(testStart)
	require.True(t, ok)

	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), addr)
}

func TestBoltRecord(t *testing.T) {
	t.Parallel()

	want := &Binding{
		Start:     testStart,
		Expiry:    testStart.Add(testValid),
		Link:      "lan",
		Hostname:  "host",
		ClientID:  []byte{0, 1, 2, 3},
		Addr:      netip.MustParseAddr("192.0.2.1"),
		Preferred: testValid,
		Valid:     testValid,
		T1:        testValid / 2,
		T2:        testValid * 4 / 5,
		IAID:      0,
		IAType:    IATypeV4,
		State:     StateActive,
	}

	got, err := bboltDecode(bboltEncode(want))
	require.NoError(t, err)

	assert.True(t, want.Start.Equal(got.Start))
	assert.True(t, want.Expiry.Equal(got.Expiry))

	got.Start, got.Expiry = want.Start, want.Expiry
	assert.Equal(t, want, got)

	_, err = bboltDecode([]byte{bboltRecordVersion})
	testutil.AssertErrorMsg(t, "length of the data is less than expected: got 1", err)

	data := bboltEncode(want)
	_, err = bboltDecode(data[:len(data)-1])
	testutil.AssertErrorMsg(t, "field at index 2: expected length 4, got 3", err)
}

// offsetOf is a helper that returns the offset of addr in p.
func offsetOf(tb testing.TB, p *pool, addr netip.Addr) (off uint64) {
	tb.Helper()

	off, ok := p.space.offset(addr)
	require.True(tb, ok)

	return off
}
