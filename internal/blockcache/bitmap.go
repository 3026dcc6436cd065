package blockcache

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// metaHeader is the fixed header spec.md §4.3 prescribes for the metadata
// sidecar file, followed immediately by segCount bytes of bitmap.
type metaHeader struct {
	ContentLength uint64
	ModTimeUnix   int64
	SegSize       uint32
	SegCount      uint32
}

const metaHeaderSize = 8 + 8 + 4 + 4

func writeMeta(f *os.File, h metaHeader, bitmap []byte) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "blockcache: seeking metadata file")
	}
	buf := make([]byte, metaHeaderSize+len(bitmap))
	binary.LittleEndian.PutUint64(buf[0:8], h.ContentLength)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.ModTimeUnix))
	binary.LittleEndian.PutUint32(buf[16:20], h.SegSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.SegCount)
	copy(buf[metaHeaderSize:], bitmap)

	if err := f.Truncate(int64(len(buf))); err != nil {
		return errors.Wrap(err, "blockcache: truncating metadata file")
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		return errors.Wrap(err, "blockcache: writing metadata file")
	}
	return f.Sync()
}

func readMeta(f *os.File) (metaHeader, []byte, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return metaHeader{}, nil, err
	}
	header := make([]byte, metaHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return metaHeader{}, nil, errors.Wrap(err, "blockcache: reading metadata header")
	}
	h := metaHeader{
		ContentLength: binary.LittleEndian.Uint64(header[0:8]),
		ModTimeUnix:   int64(binary.LittleEndian.Uint64(header[8:16])),
		SegSize:       binary.LittleEndian.Uint32(header[16:20]),
		SegCount:      binary.LittleEndian.Uint32(header[20:24]),
	}
	bitmap := make([]byte, h.SegCount)
	if _, err := io.ReadFull(f, bitmap); err != nil {
		return metaHeader{}, nil, errors.Wrap(err, "blockcache: reading segment bitmap")
	}
	return h, bitmap, nil
}
