package transport

import (
	"io"
	"mime/multipart"
	"sort"
)

// FilePart is one file field of a multipart upload.
type FilePart struct {
	Field    string
	Filename string
	Content  io.Reader
}

// Multipart is a multipart/form-data body. Files are streamed, never held in
// memory as a whole.
type Multipart struct {
	Files  []FilePart
	Fields map[string]string
}

// reader streams the encoded form through a pipe. The writer goroutine ends
// when the body is fully read or the read side is closed, which net/http
// does for sent requests and Client.do does for requests it never sends.
func (m *Multipart) reader() (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(m.write(mw))
	}()

	return pr, mw.FormDataContentType()
}

func (m *Multipart) write(mw *multipart.Writer) error {
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, m.Fields[k]); err != nil {
			return err
		}
	}

	for _, f := range m.Files {
		w, err := mw.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, f.Content); err != nil {
			return err
		}
	}
	return mw.Close()
}
