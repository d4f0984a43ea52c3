package steps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/micromdm/nanorpa/rpa"
)

// maxFileContent limits the content a file_processing step outputs.
const maxFileContent = 1 << 20

// resolvePath returns the path to open, restricting it to the file root if set.
func (b *Builtins) resolvePath(step *rpa.Step, path string) (string, error) {
	if b.fileRoot == "" {
		return path, nil
	}
	rel := filepath.Clean("/" + path)
	full := filepath.Join(b.fileRoot, rel)
	if !strings.HasPrefix(full, filepath.Clean(b.fileRoot)+string(filepath.Separator)) {
		return "", rpa.NewValidationError("step %s: path outside file root: %s", step.ID, path)
	}
	return full, nil
}

// fileProcessing reads the file at "path" and outputs its size, line
// count and SHA-256 digest. With "read" set it also outputs its content.
func (b *Builtins) fileProcessing(ctx context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error) {
	path, err := requireStr(step, ec, "path")
	if err != nil {
		return nil, err
	}
	if path, err = b.resolvePath(step, path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, rpa.NewValidationError("step %s: file not found: %s", step.ID, path)
	} else if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	read, _ := step.Config["read"].(bool)
	var content strings.Builder
	h := sha256.New()
	var r io.Reader = f
	if read {
		r = io.TeeReader(f, &limitWriter{w: &content, n: maxFileContent})
	}

	var size int64
	var lines int
	tr := io.TeeReader(r, h)
	buf := make([]byte, 32*1024)
	for {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		n, rerr := tr.Read(buf)
		size += int64(n)
		for _, c := range buf[:n] {
			if c == '\n' {
				lines++
			}
		}
		if rerr == io.EOF {
			break
		} else if rerr != nil {
			return nil, fmt.Errorf("reading file: %w", rerr)
		}
	}

	out := map[string]interface{}{
		"file_path":  path,
		"file_size":  size,
		"line_count": lines,
		"sha256":     hex.EncodeToString(h.Sum(nil)),
	}
	if read {
		out["content"] = content.String()
	}
	return out, nil
}

// limitWriter writes at most n bytes to w and silently discards the rest.
type limitWriter struct {
	w io.Writer
	n int
}

func (l *limitWriter) Write(p []byte) (int, error) {
	total := len(p)
	if l.n <= 0 {
		return total, nil
	}
	if len(p) > l.n {
		p = p[:l.n]
	}
	n, err := l.w.Write(p)
	l.n -= n
	if err != nil {
		return n, err
	}
	return total, nil
}
