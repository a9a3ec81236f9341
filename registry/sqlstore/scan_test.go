package sqlstore

import (
	"strings"
	"testing"
	"time"

	"github.com/gurre/ddb-pitr/jobmodel"
)

func TestBuildSetClauseOnlyIncludesSetFields(t *testing.T) {
	status := jobmodel.StatusProcessing
	lines := int64(42)
	patch := jobmodel.Patch{Status: &status, ProcessedLines: &lines}

	clause, args := buildSetClause(patch)
	if !strings.Contains(clause, "status = $1") {
		t.Errorf("clause = %q, want it to set status at $1", clause)
	}
	if !strings.Contains(clause, "processed_lines = $2") {
		t.Errorf("clause = %q, want it to set processed_lines at $2", clause)
	}
	if len(args) != 2 {
		t.Fatalf("len(args) = %d, want 2", len(args))
	}
	if args[0] != string(jobmodel.StatusProcessing) {
		t.Errorf("args[0] = %v, want %v", args[0], jobmodel.StatusProcessing)
	}
	if args[1] != int64(42) {
		t.Errorf("args[1] = %v, want 42", args[1])
	}
}

func TestBuildSetClauseEmptyPatch(t *testing.T) {
	clause, args := buildSetClause(jobmodel.Patch{})
	if clause != "" {
		t.Errorf("clause = %q, want empty", clause)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want empty", args)
	}
}

func TestSanitizeOrderByRejectsUnknownColumns(t *testing.T) {
	if got := sanitizeOrderBy("id; DROP TABLE jobs;--"); got != "created_at" {
		t.Errorf("sanitizeOrderBy = %q, want fallback to created_at", got)
	}
	if got := sanitizeOrderBy("heartbeatAt"); got != "heartbeat_at" {
		t.Errorf("sanitizeOrderBy = %q, want heartbeat_at", got)
	}
}

// fakeScanner feeds fixed values to Scan in column order, letting
// scanJob be tested without a real pgx.Row.
type fakeScanner struct {
	values []interface{}
}

func (f *fakeScanner) Scan(dest ...interface{}) error {
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = f.values[i].(string)
		case *int64:
			*v = f.values[i].(int64)
		case *float64:
			*v = f.values[i].(float64)
		case *bool:
			*v = f.values[i].(bool)
		case *time.Time:
			*v = f.values[i].(time.Time)
		case **time.Time:
			*v = f.values[i].(*time.Time)
		}
	}
	return nil
}

func TestScanJobMapsColumnsInOrder(t *testing.T) {
	now := time.Now()
	fs := &fakeScanner{values: []interface{}{
		"j1", "DONE", "file.csv", "bucket/key", int64(1000),
		int64(10), int64(500), int64(1), int64(10),
		int64(1), int64(1), now, (*time.Time)(nil), (*time.Time)(nil),
		(*time.Time)(nil), int64(250), 40.0, 2000.0,
		false, "0-abc", "", true,
	}}

	job, err := scanJob(fs)
	if err != nil {
		t.Fatalf("scanJob: %v", err)
	}
	if job.ID != "j1" || job.Status != jobmodel.StatusDone {
		t.Errorf("job = %+v", job)
	}
	if job.FileName != "file.csv" {
		t.Errorf("FileName = %q", job.FileName)
	}
	if job.TotalBytes != 1000 {
		t.Errorf("TotalBytes = %d", job.TotalBytes)
	}
}
