package client

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"sort"
	"time"
)

// Payload is one upload: the files to send plus the share settings.
type Payload struct {
	files     []*File
	fields    map[string]string
	createdAt time.Time
}

func NewPayload(files []*File, opts *Options) *Payload {
	return &Payload{
		files:     files,
		fields:    opts.fields(),
		createdAt: time.Now(),
	}
}

func (p *Payload) FileCount() int {
	return len(p.files)
}

// Open returns the multipart body and its content type. The body is produced
// on demand through a pipe, so files are never held in memory. Closing the
// reader early stops the producer.
func (p *Payload) Open() (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(p.write(mw))
	}()

	return pr, mw.FormDataContentType()
}

func (p *Payload) write(mw *multipart.Writer) error {
	keys := make([]string, 0, len(p.fields))
	for k := range p.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, p.fields[k]); err != nil {
			return err
		}
	}

	for i, f := range p.files {
		field := fmt.Sprintf("file%d", i)
		if err := mw.WriteField(field+"_path", f.RelativePath()); err != nil {
			return err
		}
		if err := writeFilePart(mw, field, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFilePart(mw *multipart.Writer, field string, f *File) error {
	src, err := os.Open(f.Path())
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Path(), err)
	}
	defer src.Close()

	part, err := mw.CreateFormFile(field, f.Name())
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("failed to send %s: %w", f.Path(), err)
	}
	return nil
}
