//go:build !linux

package arpdb

import "log/slog"

func newARPDB(logger *slog.Logger, run runFunc) (arp *arpdbs) {
	return newARPDBs(&cmdARPDB{
		logger: logger,
		parse:  parseArpA,
		run:    run,
		ns:     newNeighs(),
		cmd:    "arp",
		args:   []string{"-a", "-n"},
	})
}
