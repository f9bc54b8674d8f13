// Package arpdb implements the network neighborhood database used to check if
// an address is already in use before offering it.
package arpdb

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// maxCmdOutputSize is the maximum length of the command output to parse.
const maxCmdOutputSize = 64 * 1024

// Interface stores and refreshes the network neighborhood reported by ARP
// (Address Resolution Protocol) and NDP (Neighbor Discovery Protocol).
type Interface interface {
	// Refresh updates the stored data.  It must be safe for concurrent use.
	Refresh(ctx context.Context) (err error)

	// Neighbors returns the last set of data reported by ARP.  Both the method
	// and its result must be safe for concurrent use.
	Neighbors() (ns []Neighbor)
}

// New returns the [Interface] properly initialized for the OS.
func New(logger *slog.Logger) (arp Interface) {
	return newARPDB(logger, runCommand)
}

// Empty is the [Interface] implementation that does nothing.
type Empty struct{}

// type check
var _ Interface = Empty{}

// Refresh implements the [Interface] interface for Empty.  It does nothing and
// always returns nil error.
func (Empty) Refresh(_ context.Context) (err error) { return nil }

// Neighbors implements the [Interface] interface for Empty.  It always returns
// nil.
func (Empty) Neighbors() (ns []Neighbor) { return nil }

// Neighbor is the pair of IP address and MAC address reported by ARP.
type Neighbor struct {
	// IP contains either IPv4 or IPv6.
	IP netip.Addr

	// MAC contains the hardware address.
	MAC net.HardwareAddr
}

// Clone returns the deep copy of n.
func (n Neighbor) Clone() (clone Neighbor) {
	return Neighbor{
		IP:  n.IP,
		MAC: slices.Clone(n.MAC),
	}
}

// neighs is the helper type that stores neighbors to avoid copying its methods
// among all the [Interface] implementations.
type neighs struct {
	mu *sync.RWMutex
	ns []Neighbor
}

// newNeighs returns a new empty *neighs.
func newNeighs() (ns *neighs) {
	return &neighs{
		mu: &sync.RWMutex{},
		ns: []Neighbor{},
	}
}

// len returns the length of the neighbors slice.  It's safe for concurrent use.
func (ns *neighs) len() (l int) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	return len(ns.ns)
}

// clone returns a deep copy of the underlying neighbors slice.  It's safe for
// concurrent use.
func (ns *neighs) clone() (cloned []Neighbor) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	cloned = make([]Neighbor, len(ns.ns))
	for i, n := range ns.ns {
		cloned[i] = n.Clone()
	}

	return cloned
}

// reset replaces the underlying slice with the new one.  It's safe for
// concurrent use.
func (ns *neighs) reset(with []Neighbor) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.ns = with
}

// runFunc runs the command and returns its standard output.
type runFunc func(ctx context.Context, cmd string, args ...string) (out []byte, err error)

// runCommand is the [runFunc] that runs the command in the system.  Only the
// first [maxCmdOutputSize] bytes of the output are returned.
func runCommand(ctx context.Context, cmd string, args ...string) (out []byte, err error) {
	c := exec.CommandContext(ctx, cmd, args...)
	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("piping %q: %w", cmd, err)
	}

	err = c.Start()
	if err != nil {
		return nil, fmt.Errorf("starting %q: %w", cmd, err)
	}

	out, err = io.ReadAll(io.LimitReader(stdout, maxCmdOutputSize))

	// Drain the rest so that the command doesn't block on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	err = errors.Join(err, c.Wait())
	if err != nil {
		return nil, fmt.Errorf("running %q: %w", cmd, err)
	}

	return out, nil
}

// parseNeighsFunc parses the text from sc as if it'd be an output of some
// ARP-related command.  lenHint is a hint for the size of the allocated slice
// of Neighbors.
type parseNeighsFunc func(logger *slog.Logger, sc *bufio.Scanner, lenHint int) (ns []Neighbor)

// cmdARPDB is the implementation of the [Interface] that uses command line to
// retrieve data.
type cmdARPDB struct {
	logger *slog.Logger
	parse  parseNeighsFunc
	run    runFunc
	ns     *neighs
	cmd    string
	args   []string
}

// type check
var _ Interface = (*cmdARPDB)(nil)

// Refresh implements the [Interface] interface for *cmdARPDB.
func (arp *cmdARPDB) Refresh(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "cmd arpdb: %w") }()

	out, err := arp.run(ctx, arp.cmd, arp.args...)
	if err != nil {
		// Don't wrap the error, since it's informative enough as is.
		return err
	}

	sc := bufio.NewScanner(bytes.NewReader(out))
	ns := arp.parse(arp.logger, sc, arp.ns.len())
	if err = sc.Err(); err != nil {
		return fmt.Errorf("scanning the output: %w", err)
	}

	arp.ns.reset(ns)

	return nil
}

// Neighbors implements the [Interface] interface for *cmdARPDB.
func (arp *cmdARPDB) Neighbors() (ns []Neighbor) {
	return arp.ns.clone()
}

// arpdbs is the [Interface] that combines several [Interface] implementations
// and consequently switches between those.
type arpdbs struct {
	// arps is the set of [Interface] implementations to range through.
	arps []Interface
	neighs
}

// newARPDBs returns a properly initialized *arpdbs.  It begins refreshing from
// the first of arps.
func newARPDBs(arps ...Interface) (arp *arpdbs) {
	return &arpdbs{
		arps:   arps,
		neighs: *newNeighs(),
	}
}

// type check
var _ Interface = (*arpdbs)(nil)

// Refresh implements the [Interface] interface for *arpdbs.
func (arp *arpdbs) Refresh(ctx context.Context) (err error) {
	var errs []error

	for _, a := range arp.arps {
		err = a.Refresh(ctx)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		arp.reset(a.Neighbors())

		return nil
	}

	return errors.Annotate(errors.Join(errs...), "each arpdb failed: %w")
}

// Neighbors implements the [Interface] interface for *arpdbs.
func (arp *arpdbs) Neighbors() (ns []Neighbor) {
	return arp.clone()
}

// parseArpA parses the output of the "arp -a -n" command.  The expected input
// format:
//
//	hostname (192.168.1.1) at ab:cd:ef:ab:cd:ef [ether] on enp0s3
func parseArpA(logger *slog.Logger, sc *bufio.Scanner, lenHint int) (ns []Neighbor) {
	ns = make([]Neighbor, 0, lenHint)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}

		ipStr := fields[1]
		if len(ipStr) < 2 {
			continue
		}

		n, err := newNeighbor(ipStr[1:len(ipStr)-1], fields[3])
		if err != nil {
			logger.Debug("parsing arp output", slogutil.KeyError, err)

			continue
		}

		ns = append(ns, *n)
	}

	return ns
}

// newNeighbor returns the new initialized [Neighbor] by parsing string
// representations of IP and MAC addresses.
func newNeighbor(ipStr, macStr string) (n *Neighbor, err error) {
	defer func() { err = errors.Annotate(err, "getting arp neighbor: %w") }()

	ip, err := netip.ParseAddr(ipStr)
	if err != nil {
		// Don't wrap the error, as it will get annotated.
		return nil, err
	}

	mac, err := net.ParseMAC(macStr)
	if err != nil {
		// Don't wrap the error, as it will get annotated.
		return nil, err
	}

	return &Neighbor{
		IP:  ip,
		MAC: mac,
	}, nil
}
