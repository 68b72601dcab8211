package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	"github.com/isseis/go-boxps/internal/safefileio"
)

const (
	reportDirPerm  = 0o750
	reportFilePerm = 0o640
)

// Deliverer hands a finished report to its destination.
type Deliverer interface {
	// Deliver writes r and returns a description of where it went.
	// Every failure is a report error.
	Deliver(ctx context.Context, r *Report) (string, error)
}

// FileDeliverer writes each report to <Dir>/<run id>.json.
type FileDeliverer struct {
	Dir string
}

// NewFileDeliverer creates a FileDeliverer for dir.
func NewFileDeliverer(dir string) *FileDeliverer {
	return &FileDeliverer{Dir: dir}
}

// Deliver implements Deliverer.
func (d *FileDeliverer) Deliver(ctx context.Context, r *Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", boxerrors.Wrap(boxerrors.KindReport, "report delivery cancelled", err)
	}
	if r.RunID == "" || !filepath.IsLocal(r.RunID) {
		return "", boxerrors.Newf(boxerrors.KindReport, "invalid run id %q for report file name", r.RunID)
	}

	data, err := r.Marshal()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(d.Dir, reportDirPerm); err != nil {
		return "", boxerrors.Wrap(boxerrors.KindReport,
			fmt.Sprintf("cannot create report directory %s", d.Dir), err)
	}

	path := filepath.Join(d.Dir, r.RunID+".json")
	if err := safefileio.SafeWriteFile(path, data, reportFilePerm); err != nil {
		return "", boxerrors.Wrap(boxerrors.KindReport, fmt.Sprintf("cannot write report %s", path), err)
	}
	return path, nil
}

// WriterDeliverer writes reports to an io.Writer, typically stdout.
type WriterDeliverer struct {
	W    io.Writer
	Name string
}

// NewWriterDeliverer creates a WriterDeliverer. name is returned by Deliver
// as the destination.
func NewWriterDeliverer(w io.Writer, name string) *WriterDeliverer {
	return &WriterDeliverer{W: w, Name: name}
}

// Deliver implements Deliverer.
func (d *WriterDeliverer) Deliver(ctx context.Context, r *Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", boxerrors.Wrap(boxerrors.KindReport, "report delivery cancelled", err)
	}
	data, err := r.Marshal()
	if err != nil {
		return "", err
	}
	if _, err := d.W.Write(data); err != nil {
		return "", boxerrors.Wrap(boxerrors.KindReport, fmt.Sprintf("cannot write report to %s", d.Name), err)
	}
	return d.Name, nil
}
