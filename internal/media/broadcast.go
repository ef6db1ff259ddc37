package media

import "io"

// fanOut clones a single upstream reader into n independent pipe readers.
//
// Memory is bounded: one chunk buffer is shared and the upstream read only
// advances once every live consumer has accepted the current chunk, so the
// whole stream backpressures to the slowest consumer. A consumer that
// closes its reader is dropped; the remaining consumers keep receiving.
// An upstream read error is propagated to every consumer so all chains
// fail together.
func fanOut(src io.Reader, n int) []*io.PipeReader {
	readers := make([]*io.PipeReader, n)
	writers := make([]*io.PipeWriter, n)
	for i := range readers {
		readers[i], writers[i] = io.Pipe()
	}

	go func() {
		buf := make([]byte, 32*1024)
		alive := n
		for {
			nr, rerr := src.Read(buf)
			if nr > 0 {
				for i, w := range writers {
					if w == nil {
						continue
					}
					if _, werr := w.Write(buf[:nr]); werr != nil {
						writers[i] = nil
						alive--
					}
				}
			}
			if rerr != nil {
				for _, w := range writers {
					if w == nil {
						continue
					}
					if rerr == io.EOF {
						w.Close()
					} else {
						w.CloseWithError(rerr)
					}
				}
				return
			}
			if alive == 0 {
				return
			}
		}
	}()

	return readers
}
