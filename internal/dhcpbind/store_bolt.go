package dhcpbind

import (
	"context"
	"encoding/binary"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"slices"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"go.etcd.io/bbolt"
)

// storePerm is the permissions for the files of the stores.
const storePerm fs.FileMode = 0o640

// bboltBucketBindings is the name of the bucket storing the bindings by their
// addresses.
const bboltBucketBindings = "bindings-1"

// bboltRecordVersion is the version of the binary binding records.
const bboltRecordVersion = 1

// BoltStore is the bbolt database implementation of the [Store] interface.
type BoltStore struct {
	// db is the database where the bindings are stored by their addresses in
	// the [bboltBucketBindings] bucket.
	db *bbolt.DB

	logger *slog.Logger
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(logger *slog.Logger, path string) (s *BoltStore, err error) {
	db, err := bbolt.Open(path, storePerm, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening db %q: %w", path, err)
	}

	return &BoltStore{
		db:     db,
		logger: logger,
	}, nil
}

// type check
var _ Store = (*BoltStore)(nil)

// Load implements the [Store] interface for *BoltStore.  Records that can't be
// decoded are removed.
func (s *BoltStore) Load(ctx context.Context) (bs []*Binding, err error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}

	needRollback := true
	defer func() {
		if needRollback {
			err = errors.WithDeferred(err, tx.Rollback())
		}
	}()

	bkt := tx.Bucket([]byte(bboltBucketBindings))
	if bkt == nil {
		return nil, nil
	}

	var invalid [][]byte
	err = bkt.ForEach(func(k, v []byte) (err error) {
		b, decErr := bboltDecode(v)
		if decErr != nil {
			s.logger.DebugContext(ctx, "decoding binding", slogutil.KeyError, decErr)
			invalid = append(invalid, k)

			return nil
		}

		bs = append(bs, b)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterating over bindings: %w", err)
	}

	if len(invalid) == 0 {
		return bs, nil
	}

	var errs []error
	for _, k := range invalid {
		if err = bkt.Delete(k); err != nil {
			errs = append(errs, err)
		}
	}

	if err = errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("deleting invalid bindings: %w", err)
	}

	needRollback = false
	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.WarnContext(ctx, "removed invalid bindings", "num", len(invalid))

	return bs, nil
}

// Put implements the [Store] interface for *BoltStore.
func (s *BoltStore) Put(_ context.Context, b *Binding) (err error) {
	return s.update(func(bkt *bbolt.Bucket) (err error) {
		return bkt.Put(b.Addr.AsSlice(), bboltEncode(b))
	})
}

// Delete implements the [Store] interface for *BoltStore.
func (s *BoltStore) Delete(_ context.Context, b *Binding) (err error) {
	return s.update(func(bkt *bbolt.Bucket) (err error) {
		return bkt.Delete(b.Addr.AsSlice())
	})
}

// update runs f within a writable transaction on the bindings bucket.
func (s *BoltStore) update(f func(bkt *bbolt.Bucket) (err error)) (err error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	needRollback := true
	defer func() {
		if needRollback {
			err = errors.WithDeferred(err, tx.Rollback())
		}
	}()

	bkt, err := tx.CreateBucketIfNotExists([]byte(bboltBucketBindings))
	if err != nil {
		return fmt.Errorf("creating bucket: %w", err)
	}

	err = f(bkt)
	if err != nil {
		return fmt.Errorf("updating bucket: %w", err)
	}

	needRollback = false
	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Close implements the [Store] interface for *BoltStore.
func (s *BoltStore) Close() (err error) {
	return s.db.Close()
}

// bboltFixedLen is the length of the fixed-size part of a binary record:
// version, IA type, state, prefix length, IAID, start and expiry times, four
// lifetimes, and the address.
const bboltFixedLen = 1 + 1 + 1 + 1 + 4 + 8 + 8 + 4*4 + 16

// bboltEncode serializes b into a binary record.  The variable-length link
// name, client identity, and hostname follow the fixed-size part, each
// prefixed with its 2-byte length.
func bboltEncode(b *Binding) (data []byte) {
	be := binary.BigEndian
	data = make([]byte, 0, bboltFixedLen+6+len(b.Link)+len(b.ClientID)+len(b.Hostname))

	data = append(data, bboltRecordVersion, byte(b.IAType), byte(b.State), b.PrefixLen)
	data = be.AppendUint32(data, b.IAID)
	data = be.AppendUint64(data, uint64(b.Start.Unix()))
	data = be.AppendUint64(data, uint64(b.Expiry.Unix()))
	for _, d := range []time.Duration{b.Preferred, b.Valid, b.T1, b.T2} {
		data = be.AppendUint32(data, uint32(d/time.Second))
	}

	addr := b.Addr.As16()
	data = append(data, addr[:]...)

	for _, field := range [][]byte{[]byte(b.Link), b.ClientID, []byte(b.Hostname)} {
		data = be.AppendUint16(data, uint16(len(field)))
		data = append(data, field...)
	}

	return data
}

// bboltDecode deserializes a binary record into a binding.
func bboltDecode(data []byte) (b *Binding, err error) {
	if len(data) < bboltFixedLen {
		return nil, fmt.Errorf("length of the data is less than expected: got %d", len(data))
	} else if data[0] != bboltRecordVersion {
		return nil, fmt.Errorf("version: %w: %d", errors.ErrBadEnumValue, data[0])
	}

	be := binary.BigEndian
	b = &Binding{
		IAType:    IAType(data[1]),
		State:     State(data[2]),
		PrefixLen: data[3],
		IAID:      be.Uint32(data[4:8]),
		Start:     time.Unix(int64(be.Uint64(data[8:16])), 0),
		Expiry:    time.Unix(int64(be.Uint64(data[16:24])), 0),
		Preferred: secs(be.Uint32(data[24:28])),
		Valid:     secs(be.Uint32(data[28:32])),
		T1:        secs(be.Uint32(data[32:36])),
		T2:        secs(be.Uint32(data[36:40])),
		Addr:      netip.AddrFrom16([16]byte(data[40:56])),
	}

	if b.IAType == IATypeV4 {
		b.Addr = b.Addr.Unmap()
	}

	rest := data[bboltFixedLen:]
	var fields [3][]byte
	for i := range fields {
		if len(rest) < 2 {
			return nil, fmt.Errorf("field at index %d: no length", i)
		}

		l := int(be.Uint16(rest))
		rest = rest[2:]
		if len(rest) < l {
			return nil, fmt.Errorf("field at index %d: expected length %d, got %d", i, l, len(rest))
		}

		fields[i], rest = rest[:l:l], rest[l:]
	}

	// The data is only valid within the transaction.
	b.Link, b.ClientID, b.Hostname = string(fields[0]), slices.Clone(fields[1]), string(fields[2])

	return b, nil
}

// secs converts the number of seconds into a duration.
func secs(n uint32) (d time.Duration) {
	return time.Duration(n) * time.Second
}
