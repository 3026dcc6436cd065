package linkgraph

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

// LinkTableFileName is the sidecar file name spec.md §4.2 and §6 give each
// persisted directory listing: <meta_dir>/<directory_path>/.LinkTable.
const LinkTableFileName = ".LinkTable"

// saveLinkTable writes lt to path in the binary format from spec.md §4.2:
// a count, then one record per link. The original C implementation used
// fixed-size name/URL buffers (MAX_FILENAME_LEN/MAX_PATH_LEN); this port
// uses uint16 length-prefixed strings instead, the idiomatic Go way to
// encode a variable-length field.
func saveLinkTable(path string, lt *LinkTable) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "linkgraph: creating .LinkTable")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, int32(len(lt.Links))); err != nil {
		return errors.Wrap(err, "linkgraph: writing .LinkTable count")
	}
	for _, l := range lt.Links {
		if err := writeLinkRecord(w, l); err != nil {
			return errors.Wrap(err, "linkgraph: writing .LinkTable record")
		}
	}
	return w.Flush()
}

func writeLinkRecord(w io.Writer, l *Link) error {
	if err := writeString(w, l.Name); err != nil {
		return err
	}
	if err := writeString(w, l.URL); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byte(l.Kind)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, l.ContentLength); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, l.ModTime.UnixNano())
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// loadLinkTable reads a .LinkTable file back into a LinkTable. Any I/O or
// format error discards the disk copy per spec.md §4.2's load rule, by
// returning a non-nil error for the caller to treat as "no persisted copy".
func loadLinkTable(path string, depth int) (*LinkTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errors.Wrap(err, "linkgraph: reading .LinkTable count")
	}
	if count < 1 {
		return nil, errors.New("linkgraph: .LinkTable has no sentinel record")
	}

	lt := &LinkTable{}
	for i := int32(0); i < count; i++ {
		l, err := readLinkRecord(r, depth)
		if err != nil {
			return nil, errors.Wrap(err, "linkgraph: reading .LinkTable record")
		}
		l.Parent = lt
		lt.Links = append(lt.Links, l)
	}
	return lt, nil
}

func readLinkRecord(r io.Reader, depth int) (*Link, error) {
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	url, err := readString(r)
	if err != nil {
		return nil, err
	}
	var kind byte
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return nil, err
	}
	var contentLength int64
	if err := binary.Read(r, binary.LittleEndian, &contentLength); err != nil {
		return nil, err
	}
	var nanos int64
	if err := binary.Read(r, binary.LittleEndian, &nanos); err != nil {
		return nil, err
	}
	return &Link{
		Name:          name,
		URL:           url,
		Kind:          Kind(kind),
		ContentLength: contentLength,
		ModTime:       time.Unix(0, nanos).UTC(),
		Depth:         depth,
	}, nil
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
