package configmgr

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/uuid"
)

// DUID limits, see RFC 8415 section 11.1.
const (
	minDUIDLen = 3
	maxDUIDLen = 130
)

// duidTypeUUID is the type of the DUID based on UUID, see RFC 6355.
const duidTypeUUID uint16 = 4

// parseDUID parses the DUID written as hexadecimal octets, optionally
// separated by colons.
func parseDUID(s string) (duid []byte, err error) {
	duid, err = hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	if l := len(duid); l < minDUIDLen || l > maxDUIDLen {
		return nil, fmt.Errorf("length: %w: %d", errors.ErrOutOfRange, l)
	}

	return duid, nil
}

// newDUIDUUID returns a DUID-UUID made of a random UUID.
func newDUIDUUID() (duid []byte, err error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating uuid: %w", err)
	}

	duid = make([]byte, 0, 2+len(id))
	duid = append(duid, byte(duidTypeUUID>>8), byte(duidTypeUUID))

	return append(duid, id[:]...), nil
}

// formatDUID returns the textual form of duid accepted by [parseDUID].
func formatDUID(duid []byte) (s string) {
	b := &strings.Builder{}
	for i, o := range duid {
		if i > 0 {
			b.WriteByte(':')
		}

		b.WriteString(hex.EncodeToString([]byte{o}))
	}

	return b.String()
}
