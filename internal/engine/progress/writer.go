package progress

import "io"

// Writer wraps an io.Writer and reports cumulative progress via a callback
// every reportInterval bytes. The callback fires after the chunk has been
// handed to the underlying writer, so reported progress never runs ahead of
// what the writer has accepted.
type Writer struct {
	writer         io.Writer
	onProgress     func(written int64)
	totalWritten   int64
	sinceReport    int64
	reportInterval int64
}

func NewWriter(w io.Writer, interval int64, cb func(written int64)) *Writer {
	return &Writer{
		writer:         w,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (pw *Writer) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	if n > 0 {
		pw.totalWritten += int64(n)
		pw.sinceReport += int64(n)
	}

	if pw.sinceReport >= pw.reportInterval {
		pw.onProgress(pw.totalWritten)
		pw.sinceReport = 0
	}

	return n, err
}

// Total returns the cumulative number of bytes written so far.
func (pw *Writer) Total() int64 { return pw.totalWritten }
