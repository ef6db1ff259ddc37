package media

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func TestFanOut_AllConsumersSeeFullStream(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("stream-chunk-"), 4096)
	readers := fanOut(bytes.NewReader(payload), 3)

	var wg sync.WaitGroup
	got := make([][]byte, len(readers))
	for i, pr := range readers {
		wg.Add(1)
		go func(i int, pr *io.PipeReader) {
			defer wg.Done()
			data, err := io.ReadAll(pr)
			require.NoError(t, err)
			got[i] = data
		}(i, pr)
	}
	wg.Wait()

	for i := range got {
		require.Equal(t, payload, got[i])
	}
}

func TestFanOut_EarlyCloseDoesNotStallOthers(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("x"), 256*1024)
	readers := fanOut(bytes.NewReader(payload), 2)

	require.NoError(t, readers[0].Close())

	data, err := io.ReadAll(readers[1])
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestFanOut_UpstreamErrorPropagates(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("connection reset")
	src := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errBoom))
	readers := fanOut(src, 2)

	var wg sync.WaitGroup
	for _, pr := range readers {
		wg.Add(1)
		go func(pr *io.PipeReader) {
			defer wg.Done()
			_, err := io.ReadAll(pr)
			require.ErrorIs(t, err, errBoom)
		}(pr)
	}
	wg.Wait()
}
