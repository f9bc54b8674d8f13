package arpdb

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

const arpAOutput = `
invalid.mac (1.2.3.4) at 12:34:56:78:910 on el0 ifscope [ethernet]
invalid.ip  (1.2.3.4.5) at ab:cd:ef:ab:cd:12 on ek0 ifscope [ethernet]
invalid.fmt 1 at 12:cd:ef:ab:cd:ef on er0 ifscope [ethernet]
? (192.168.1.2) at ab:cd:ef:ab:cd:ef on en0 ifscope [ethernet]
? (::ffff:ffff) at ef:cd:ab:ef:cd:ab on em0 expires in 100 seconds [ethernet]`

var wantNeighs = []Neighbor{{
	IP:  netip.MustParseAddr("192.168.1.2"),
	MAC: net.HardwareAddr{0xAB, 0xCD, 0xEF, 0xAB, 0xCD, 0xEF},
}, {
	IP:  netip.MustParseAddr("::ffff:ffff"),
	MAC: net.HardwareAddr{0xEF, 0xCD, 0xAB, 0xEF, 0xCD, 0xAB},
}}

// mapShell is a [runFunc] substitution that maps the command to its execution
// result.
type mapShell map[string]struct {
	err error
	out string
}

// theOnlyCmd returns mapShell that only handles a single command and arguments
// combination from cmd.
func theOnlyCmd(cmd string, out string, err error) (s mapShell) {
	return mapShell{cmd: {out: out, err: err}}
}

// run is a [runFunc] handled by s.
func (s mapShell) run(_ context.Context, cmd string, args ...string) (out []byte, err error) {
	key := strings.Join(append([]string{cmd}, args...), " ")
	ret, ok := s[key]
	if !ok {
		return nil, fmt.Errorf("unexpected shell command %q", key)
	}

	return []byte(ret.out), ret.err
}

// testARPDB is the mock implementation of [Interface] to use in tests.
type testARPDB struct {
	onRefresh   func(ctx context.Context) (err error)
	onNeighbors func() (ns []Neighbor)
}

// type check
var _ Interface = (*testARPDB)(nil)

// Refresh implements the [Interface] interface for *testARPDB.
func (arp *testARPDB) Refresh(ctx context.Context) (err error) {
	return arp.onRefresh(ctx)
}

// Neighbors implements the [Interface] interface for *testARPDB.
func (arp *testARPDB) Neighbors() (ns []Neighbor) {
	return arp.onNeighbors()
}

func TestNew(t *testing.T) {
	t.Parallel()

	var a Interface
	require.NotPanics(t, func() { a = New(slogutil.NewDiscardLogger()) })

	assert.NotNil(t, a)
}

func TestARPDBs(t *testing.T) {
	t.Parallel()

	knownIP := netip.MustParseAddr("1.2.3.4")
	knownMAC := net.HardwareAddr{0xAB, 0xCD, 0xEF, 0xAB, 0xCD, 0xEF}

	newSuccDB := func(cnt *int) (db *testARPDB) {
		return &testARPDB{
			onRefresh: func(_ context.Context) (err error) { *cnt++; return nil },
			onNeighbors: func() (ns []Neighbor) {
				return []Neighbor{{IP: knownIP, MAC: knownMAC}}
			},
		}
	}

	newFailDB := func(cnt *int) (db *testARPDB) {
		return &testARPDB{
			onRefresh: func(_ context.Context) (err error) {
				*cnt++

				return errors.Error("refresh failed")
			},
			onNeighbors: func() (ns []Neighbor) { return nil },
		}
	}

	t.Run("begin_with_success", func(t *testing.T) {
		t.Parallel()

		var succ, fail int
		a := newARPDBs(newSuccDB(&succ), newFailDB(&fail))

		err := a.Refresh(testutil.ContextWithTimeout(t, testTimeout))
		require.NoError(t, err)

		assert.Equal(t, 1, succ)
		assert.Zero(t, fail)
		assert.NotEmpty(t, a.Neighbors())
	})

	t.Run("begin_with_fail", func(t *testing.T) {
		t.Parallel()

		var succ, fail int
		a := newARPDBs(newFailDB(&fail), newSuccDB(&succ))

		err := a.Refresh(testutil.ContextWithTimeout(t, testTimeout))
		require.NoError(t, err)

		assert.Equal(t, 1, succ)
		assert.Equal(t, 1, fail)
		assert.NotEmpty(t, a.Neighbors())
	})

	t.Run("fail_only", func(t *testing.T) {
		t.Parallel()

		var fail int
		db := newFailDB(&fail)
		a := newARPDBs(db, db)

		err := a.Refresh(testutil.ContextWithTimeout(t, testTimeout))
		testutil.AssertErrorMsg(t, "each arpdb failed: refresh failed\nrefresh failed", err)

		assert.Equal(t, 2, fail)
		assert.Empty(t, a.Neighbors())
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		a := newARPDBs()
		require.NoError(t, a.Refresh(testutil.ContextWithTimeout(t, testTimeout)))

		assert.Empty(t, a.Neighbors())
	})
}

func TestCmdARPDB_arpA(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		sh         mapShell
		want       []Neighbor
		name       string
		wantErrMsg string
	}{{
		sh:         theOnlyCmd("arp -a -n", arpAOutput, nil),
		want:       wantNeighs,
		name:       "arp_a",
		wantErrMsg: "",
	}, {
		sh:         theOnlyCmd("arp -a -n", "", errors.Error("can't run")),
		want:       []Neighbor{},
		name:       "run_error",
		wantErrMsg: "cmd arpdb: can't run",
	}, {
		sh:         theOnlyCmd("arp -a -n", "", nil),
		want:       []Neighbor{},
		name:       "empty",
		wantErrMsg: "",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a := &cmdARPDB{
				logger: slogutil.NewDiscardLogger(),
				parse:  parseArpA,
				run:    tc.sh.run,
				ns:     newNeighs(),
				cmd:    "arp",
				args:   []string{"-a", "-n"},
			}

			err := a.Refresh(testutil.ContextWithTimeout(t, testTimeout))
			testutil.AssertErrorMsg(t, tc.wantErrMsg, err)

			assert.Equal(t, tc.want, a.Neighbors())
		})
	}
}

func TestEmpty(t *testing.T) {
	t.Parallel()

	a := Empty{}

	assert.NoError(t, a.Refresh(testutil.ContextWithTimeout(t, testTimeout)))
	assert.Empty(t, a.Neighbors())
}
