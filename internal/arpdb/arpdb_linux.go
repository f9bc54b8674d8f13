//go:build linux

package arpdb

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
)

// rootDirFS is the filesystem pointing to the root directory.
var rootDirFS = osutil.RootDirFS()

func newARPDB(logger *slog.Logger, run runFunc) (arp *arpdbs) {
	// Use the common storage among the implementations.
	ns := newNeighs()

	return newARPDBs(
		// Try /proc/net/arp first.
		&fsysARPDB{
			logger:   logger,
			ns:       ns,
			fsys:     rootDirFS,
			filename: "proc/net/arp",
		},
		// Then, try "ip neigh", which also reports IPv6 neighbors.
		&cmdARPDB{
			logger: logger,
			parse:  parseIPNeigh,
			run:    run,
			ns:     ns,
			cmd:    "ip",
			args:   []string{"neigh"},
		},
		// Finally, try "arp -a -n".  Use -n flag to avoid resolving the
		// hostnames of the neighbors.
		&cmdARPDB{
			logger: logger,
			parse:  parseArpA,
			run:    run,
			ns:     ns,
			cmd:    "arp",
			args:   []string{"-a", "-n"},
		},
	)
}

// fsysARPDB accesses the ARP cache file to update the database.
type fsysARPDB struct {
	logger   *slog.Logger
	ns       *neighs
	fsys     fs.FS
	filename string
}

// type check
var _ Interface = (*fsysARPDB)(nil)

// Refresh implements the [Interface] interface for *fsysARPDB.
func (arp *fsysARPDB) Refresh(_ context.Context) (err error) {
	f, err := arp.fsys.Open(arp.filename)
	if err != nil {
		return fmt.Errorf("opening %q: %w", arp.filename, err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	sc := bufio.NewScanner(f)
	// Skip the header.
	if !sc.Scan() {
		return sc.Err()
	}

	ns := make([]Neighbor, 0, arp.ns.len())
	for sc.Scan() {
		n := arp.parseNeighbor(sc.Text())
		if n != nil {
			ns = append(ns, *n)
		}
	}

	if err = sc.Err(); err != nil {
		return fmt.Errorf("scanning %q: %w", arp.filename, err)
	}

	arp.ns.reset(ns)

	return nil
}

// parseNeighbor parses line of /proc/net/arp into *Neighbor.  The expected
// format:
//
//	IP address       HW type     Flags       HW address            Mask     Device
//	192.168.11.98    0x1         0x2         5a:92:df:a9:7e:28     *        wan
func (arp *fsysARPDB) parseNeighbor(line string) (n *Neighbor) {
	fields := strings.Fields(line)
	if len(fields) != 6 {
		return nil
	}

	n, err := newNeighbor(fields[0], fields[3])
	if err != nil {
		arp.logger.Debug("parsing arp cache", slogutil.KeyError, err)

		return nil
	} else if n.IP.IsUnspecified() {
		return nil
	}

	return n
}

// Neighbors implements the [Interface] interface for *fsysARPDB.
func (arp *fsysARPDB) Neighbors() (ns []Neighbor) {
	return arp.ns.clone()
}

// parseIPNeigh parses the output of the "ip neigh" command on Linux.  The
// expected input format:
//
//	192.168.1.1 dev enp0s3 lladdr ab:cd:ef:ab:cd:ef REACHABLE
func parseIPNeigh(logger *slog.Logger, sc *bufio.Scanner, lenHint int) (ns []Neighbor) {
	ns = make([]Neighbor, 0, lenHint)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}

		n, err := newNeighbor(fields[0], fields[4])
		if err != nil {
			logger.Debug("parsing ip neigh output", slogutil.KeyError, err)

			continue
		}

		ns = append(ns, *n)
	}

	return ns
}
