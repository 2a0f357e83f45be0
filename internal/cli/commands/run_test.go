package commands

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcohort/internal/cli/output"
)

type closer struct {
	err    error
	closed int
}

func (c *closer) Close() error {
	c.closed++
	return c.err
}

type failingSink struct {
	output.Sink
	err error
}

func (s failingSink) Flush() error { return s.err }

func TestFinishTable(t *testing.T) {
	t.Run("close error is returned", func(t *testing.T) {
		var buf bytes.Buffer
		f := &closer{err: errors.New("no space left on device")}

		err := finishTable(output.NewCSVSink(&buf, "NA"), f)
		require.ErrorContains(t, err, "failed to write output file: no space left on device")
		assert.Equal(t, 1, f.closed)
	})

	t.Run("flush error closes the file", func(t *testing.T) {
		f := &closer{}
		err := finishTable(failingSink{err: errors.New("short write")}, f)
		require.ErrorContains(t, err, "short write")
		assert.Equal(t, 1, f.closed)
	})

	t.Run("stdout", func(t *testing.T) {
		var buf bytes.Buffer
		s := output.NewCSVSink(&buf, "NA")
		require.NoError(t, s.WriteHeader([]string{"patient_id"}))
		require.NoError(t, finishTable(s, nil))
		assert.Equal(t, "patient_id\n", buf.String())
	})
}
