// Package archive keeps a copy of every batch file the collector ingests,
// either in an S3-compatible bucket or in a local directory.
package archive

import (
	"context"
	"fmt"
	"path"
	"time"
)

// Archiver stores one batch file and returns where it went.
type Archiver interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// ObjectKey names an archived file: imports/YYYY/MM/DD/<batchID>.csv.
func ObjectKey(t time.Time, batchID string) string {
	t = t.UTC()
	return path.Join("imports", fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", t.Month()), fmt.Sprintf("%02d", t.Day()), batchID+".csv")
}

// Nop discards everything.
type Nop struct{}

func (Nop) Put(context.Context, string, []byte) (string, error) { return "", nil }
