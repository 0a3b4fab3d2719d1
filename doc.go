// Package depot reads and writes depot archives: single-file, seekable and
// streamable containers of named, individually compressed entries.
//
// An archive is laid out as a fixed header, the entry payloads back to back,
// and a table of contents (TOC) at the end:
//
//	+--------+-----------+-----------+-----+-----+
//	| header | payload 0 | payload 1 | ... | TOC |
//	+--------+-----------+-----------+-----+-----+
//
// The header records where the TOC starts, so a reader needs two ranged
// reads to learn the whole directory and one more per entry it wants. A
// writer never needs to know the final size up front: payloads are appended
// as they arrive and the header is patched (or emitted separately for
// non-seekable sinks) once the TOC is written.
//
// Each entry carries its own compression state and a 64-bit content digest.
// The codec and the digest are pluggable; see packages compress and checksum.
//
// # Writing
//
//	f, err := os.Create("site.depot")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//	w, err := depot.NewWriter(f)
//	if err != nil {
//	    return err
//	}
//	if _, err := w.AppendBytes("index.html", page); err != nil {
//	    return err
//	}
//	return w.Finalize()
//
// # Reading
//
//	a, err := depot.OpenFile("site.depot")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	page, err := a.ReadFile("index.html")
//
// Archive implements fs.FS, fs.StatFS, fs.ReadFileFS and fs.ReadDirFS;
// directories are synthesized from slash-separated entry names.
package depot
