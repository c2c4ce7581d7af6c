package basic

import (
	"fmt"
	"testing"

	jerrors "github.com/juju/errors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassesSurviveWrapping(t *testing.T) {
	base := IOError.New("could not write to file %s", "base/16384")

	assert.True(t, IsIOError(base))
	assert.True(t, IsIOError(errors.Wrap(base, "flush")))
	assert.True(t, IsIOError(jerrors.Trace(base)))
	assert.True(t, IsIOError(jerrors.Annotatef(errors.WithStack(base), "load %s", "t1")))
	assert.True(t, IsIOError(fmt.Errorf("wrapped: %w", base)))

	assert.False(t, IsLimitError(base))
	assert.False(t, IsProtocolError(jerrors.Trace(base)))
	assert.False(t, IsIOError(nil))
	assert.False(t, IsIOError(errors.New("plain")))
}

func TestItemPointerCompare(t *testing.T) {
	a := ItemPointer{Block: 1, Offset: 2}
	assert.Equal(t, 0, a.Compare(ItemPointer{Block: 1, Offset: 2}))
	assert.Equal(t, -1, a.Compare(ItemPointer{Block: 1, Offset: 3}))
	assert.Equal(t, 1, a.Compare(ItemPointer{Block: 0, Offset: 9}))
	assert.Equal(t, "(1,2)", a.String())
	assert.Equal(t, "INSERT", CmdInsert.String())
}
