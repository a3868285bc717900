package records

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/shared/util"
)

const maxRecordLine = 1 << 20

// WriteVersion atomically replaces path with one JSON line per record.
func WriteVersion(path string, recs []RawHashRecord) error {
	err := util.WriteAtomic(path, 0o644, func(w io.Writer) error {
		buf := bufio.NewWriterSize(w, 64*1024)
		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		for i := range recs {
			if err := enc.Encode(&recs[i]); err != nil {
				return err
			}
		}
		return buf.Flush()
	})
	if err != nil {
		return coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeTransientIO, "write version records"),
			coreerrors.CtxPath, path,
		)
	}
	return nil
}

// ReadStats counts what a read accepted and what it skipped.
type ReadStats struct {
	Records int
	Corrupt int
}

// ReadVersion streams the records of one version file to fn. Lines that are
// not valid JSON, exceed maxRecordLine, carry no hash, or name a different
// component than expectComponent are CORRUPT_RECORD: logged, counted and skipped. Only I/O
// failures and errors returned by fn abort the read.
func ReadVersion(path, expectComponent string, fn func(RawHashRecord) error) (ReadStats, error) {
	var stats ReadStats

	f, err := os.Open(path)
	if err != nil {
		return stats, coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeTransientIO, "open version records"),
			coreerrors.CtxPath, path,
		)
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	var buf []byte
	line := 0
	for {
		raw, tooLong, readErr := readRecordLine(reader, buf)
		buf = raw[:0]
		if readErr != nil && readErr != io.EOF {
			return stats, coreerrors.AddContext(
				coreerrors.Wrap(readErr, coreerrors.CodeTransientIO, "read version records"),
				coreerrors.CtxPath, path,
			)
		}
		if readErr == nil || len(raw) > 0 || tooLong {
			line++
		}
		switch {
		case tooLong:
			stats.Corrupt++
			slog.Warn("skipping corrupt record", "path", path, "line", line, "error", "record exceeds maximum line length")
		case len(raw) > 0:
			rec, err := decodeRecord(raw, expectComponent)
			if err != nil {
				stats.Corrupt++
				slog.Warn("skipping corrupt record", "path", path, "line", line, "error", err)
				break
			}
			stats.Records++
			if err := fn(rec); err != nil {
				return stats, err
			}
		}
		if readErr == io.EOF {
			return stats, nil
		}
	}
}

// readRecordLine returns the next line without its terminator, reusing buf.
// A line longer than maxRecordLine is consumed and reported as tooLong with
// no content.
func readRecordLine(r *bufio.Reader, buf []byte) (line []byte, tooLong bool, err error) {
	buf = buf[:0]
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxRecordLine+1 {
				tooLong = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return bytes.TrimRight(buf, "\r\n"), tooLong, err
	}
}

func decodeRecord(raw []byte, expectComponent string) (RawHashRecord, error) {
	var rec RawHashRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "malformed record")
	}
	if rec.Hash.IsZero() {
		return rec, coreerrors.New(coreerrors.CodeCorruptRecord, "record has no hash")
	}
	if expectComponent != "" && rec.Component != expectComponent {
		return rec, coreerrors.New(coreerrors.CodeCorruptRecord,
			fmt.Sprintf("record belongs to %q, not partition %q", rec.Component, expectComponent))
	}
	return rec, nil
}
