package configmgr

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/c2h5oh/datasize"
)

// numberOrDuration is the constraint for the configuration values that must
// be positive.
type numberOrDuration interface {
	~int | timeutil.Duration | datasize.ByteSize
}

// newErrNotPositive returns an error about the value that must be positive but
// isn't.  prop is the name of the property to mention in the error message.
func newErrNotPositive[T numberOrDuration](prop string, v T) (err error) {
	return fmt.Errorf("%s: %w, got %v", prop, errors.ErrNotPositive, v)
}
