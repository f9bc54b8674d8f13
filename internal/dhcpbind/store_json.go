package dhcpbind

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/google/renameio/v2/maybe"
)

// fileDataVersion is the current version of the stored bindings structure.
const fileDataVersion = 1

// fileData is the structure of the stored bindings.
type fileData struct {
	// Bindings is the list containing the stored bindings.
	Bindings []*fileBinding `json:"bindings"`

	// Version is the current version of the structure.
	Version int `json:"version"`
}

// fileBinding is the structure of a stored binding.
type fileBinding struct {
	Start     time.Time         `json:"start"`
	Expiry    time.Time         `json:"expires"`
	Link      string            `json:"link"`
	Hostname  string            `json:"hostname,omitempty"`
	ClientID  string            `json:"client_id"`
	Addr      netip.Addr        `json:"addr"`
	IAType    string            `json:"ia_type"`
	State     string            `json:"state"`
	Preferred timeutil.Duration `json:"preferred_lifetime"`
	Valid     timeutil.Duration `json:"valid_lifetime"`
	T1        timeutil.Duration `json:"t1"`
	T2        timeutil.Duration `json:"t2"`
	IAID      uint32            `json:"iaid"`
	PrefixLen uint8             `json:"prefix_len,omitempty"`
}

// toFileBinding converts b into its stored form.
func toFileBinding(b *Binding) (fb *fileBinding) {
	return &fileBinding{
		Start:     b.Start,
		Expiry:    b.Expiry,
		Link:      b.Link,
		Hostname:  b.Hostname,
		ClientID:  hex.EncodeToString(b.ClientID),
		Addr:      b.Addr,
		IAType:    b.IAType.String(),
		State:     b.State.String(),
		Preferred: timeutil.Duration(b.Preferred),
		Valid:     timeutil.Duration(b.Valid),
		T1:        timeutil.Duration(b.T1),
		T2:        timeutil.Duration(b.T2),
		IAID:      b.IAID,
		PrefixLen: b.PrefixLen,
	}
}

// toInternal converts fb into a binding.
func (fb *fileBinding) toInternal() (b *Binding, err error) {
	id, err := hex.DecodeString(fb.ClientID)
	if err != nil {
		return nil, fmt.Errorf("parsing client id: %w", err)
	}

	iaType, err := parseIAType(fb.IAType)
	if err != nil {
		return nil, err
	}

	state, err := parseState(fb.State)
	if err != nil {
		return nil, err
	}

	return &Binding{
		Start:     fb.Start,
		Expiry:    fb.Expiry,
		Link:      fb.Link,
		Hostname:  fb.Hostname,
		ClientID:  id,
		Addr:      fb.Addr,
		Preferred: time.Duration(fb.Preferred),
		Valid:     time.Duration(fb.Valid),
		T1:        time.Duration(fb.T1),
		T2:        time.Duration(fb.T2),
		IAID:      fb.IAID,
		PrefixLen: fb.PrefixLen,
		IAType:    iaType,
		State:     state,
	}, nil
}

// parseIAType returns the IA type by its string form.
func parseIAType(s string) (t IAType, err error) {
	for t = IATypeV4; t <= IATypePD; t++ {
		if t.String() == s {
			return t, nil
		}
	}

	return 0, fmt.Errorf("ia type: %w: %q", errors.ErrBadEnumValue, s)
}

// parseState returns the state by its string form.
func parseState(s string) (st State, err error) {
	for st = StateRequested; st <= StateDeclined; st++ {
		if st.String() == s {
			return st, nil
		}
	}

	return 0, fmt.Errorf("state: %w: %q", errors.ErrBadEnumValue, s)
}

// FileStore is the JSON file implementation of the [Store] interface.  The
// whole file is rewritten on every change.
type FileStore struct {
	logger *slog.Logger

	// mu protects bindings and the file.
	mu *sync.Mutex

	// bindings are the stored bindings by their addresses.
	bindings map[netip.Addr]*fileBinding

	path string
}

// NewFileStore returns a new store keeping the bindings in the file at path.
// The file is created on the first change.
func NewFileStore(logger *slog.Logger, path string) (s *FileStore) {
	return &FileStore{
		logger:   logger,
		mu:       &sync.Mutex{},
		bindings: map[netip.Addr]*fileBinding{},
		path:     path,
	}
}

// type check
var _ Store = (*FileStore)(nil)

// Load implements the [Store] interface for *FileStore.  Entries that can't be
// converted are skipped.
func (s *FileStore) Load(ctx context.Context) (bs []*Binding, err error) {
	defer func() { err = errors.Annotate(err, "loading %q: %w", s.path) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading file: %w", err)
		}

		s.logger.DebugContext(ctx, "no bindings file found")

		return nil, nil
	}
	defer func() { err = errors.WithDeferred(err, file.Close()) }()

	fd := &fileData{}
	err = json.NewDecoder(file).Decode(fd)
	if err != nil {
		return nil, fmt.Errorf("decoding file: %w", err)
	}

	clear(s.bindings)
	for i, fb := range fd.Bindings {
		var b *Binding
		b, err = fb.toInternal()
		if err != nil {
			s.logger.WarnContext(ctx, "converting binding", "idx", i, slogutil.KeyError, err)

			continue
		}

		s.bindings[b.Addr] = fb
		bs = append(bs, b)
	}

	return bs, nil
}

// Put implements the [Store] interface for *FileStore.
func (s *FileStore) Put(ctx context.Context, b *Binding) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.bindings[b.Addr]
	s.bindings[b.Addr] = toFileBinding(b)

	err = s.write(ctx)
	if err != nil {
		if hadPrev {
			s.bindings[b.Addr] = prev
		} else {
			delete(s.bindings, b.Addr)
		}
	}

	return err
}

// Delete implements the [Store] interface for *FileStore.
func (s *FileStore) Delete(ctx context.Context, b *Binding) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.bindings[b.Addr]
	if !ok {
		return nil
	}

	delete(s.bindings, b.Addr)

	err = s.write(ctx)
	if err != nil {
		s.bindings[b.Addr] = prev
	}

	return err
}

// write writes the bindings into the file.  s.mu must be locked.
func (s *FileStore) write(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "writing %q: %w", s.path) }()

	fd := &fileData{
		// Avoid writing null into the file if there are no bindings.
		Bindings: make([]*fileBinding, 0, len(s.bindings)),
		Version:  fileDataVersion,
	}

	for _, fb := range s.bindings {
		fd.Bindings = append(fd.Bindings, fb)
	}

	slices.SortFunc(fd.Bindings, func(a, b *fileBinding) (res int) {
		return a.Addr.Compare(b.Addr)
	})

	buf, err := json.Marshal(fd)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	err = maybe.WriteFile(s.path, buf, storePerm)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	s.logger.DebugContext(ctx, "stored bindings", "num", len(fd.Bindings))

	return nil
}

// Close implements the [Store] interface for *FileStore.
func (s *FileStore) Close() (err error) {
	return nil
}
