package sqlstore

import (
	"fmt"

	"github.com/gurre/ddb-pitr/jobmodel"
)

const selectColumns = `SELECT
	id, status, file_name, source_item_id, total_bytes,
	processed_lines, processed_bytes, error_lines, total_lines,
	num_fragments, fragments_done, created_at, started_at, finished_at,
	heartbeat_at, total_duration_ms, lines_per_second, bytes_per_second,
	cancel_requested, claimed_by, error_message, validation_passed`

// scanner is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query),
// so scanJob works for both a single-row Get and a multi-row
// ListByStatus without duplicating the column list.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (jobmodel.Job, error) {
	var j jobmodel.Job
	var status string
	err := row.Scan(
		&j.ID, &status, &j.FileName, &j.SourceItemID, &j.TotalBytes,
		&j.ProcessedLines, &j.ProcessedBytes, &j.ErrorLines, &j.TotalLines,
		&j.NumFragments, &j.FragmentsDone, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
		&j.HeartbeatAt, &j.TotalDurationMs, &j.LinesPerSecond, &j.BytesPerSecond,
		&j.CancelRequested, &j.ClaimedBy, &j.ErrorMessage, &j.ValidationPassed,
	)
	if err != nil {
		return jobmodel.Job{}, err
	}
	j.Status = jobmodel.Status(status)
	return j, nil
}

// buildSetClause turns a jobmodel.Patch into a "col = $1, col2 = $2"
// fragment and its positional arguments, mirroring the dynamostore
// backend's patchExpression but for SQL placeholders.
func buildSetClause(p jobmodel.Patch) (string, []interface{}) {
	var clause string
	var args []interface{}
	add := func(col string, val interface{}) {
		args = append(args, val)
		if clause != "" {
			clause += ", "
		}
		clause += fmt.Sprintf("%s = $%d", col, len(args))
	}

	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.ProcessedLines != nil {
		add("processed_lines", *p.ProcessedLines)
	}
	if p.ProcessedBytes != nil {
		add("processed_bytes", *p.ProcessedBytes)
	}
	if p.ErrorLines != nil {
		add("error_lines", *p.ErrorLines)
	}
	if p.TotalLines != nil {
		add("total_lines", *p.TotalLines)
	}
	if p.NumFragments != nil {
		add("num_fragments", *p.NumFragments)
	}
	if p.FragmentsDone != nil {
		add("fragments_done", *p.FragmentsDone)
	}
	if p.StartedAt != nil {
		add("started_at", *p.StartedAt)
	}
	if p.FinishedAt != nil {
		add("finished_at", *p.FinishedAt)
	}
	if p.HeartbeatAt != nil {
		add("heartbeat_at", *p.HeartbeatAt)
	}
	if p.TotalDurationMs != nil {
		add("total_duration_ms", *p.TotalDurationMs)
	}
	if p.LinesPerSecond != nil {
		add("lines_per_second", *p.LinesPerSecond)
	}
	if p.BytesPerSecond != nil {
		add("bytes_per_second", *p.BytesPerSecond)
	}
	if p.CancelRequested != nil {
		add("cancel_requested", *p.CancelRequested)
	}
	if p.ClaimedBy != nil {
		add("claimed_by", *p.ClaimedBy)
	}
	if p.ErrorMessage != nil {
		add("error_message", *p.ErrorMessage)
	}
	if p.ValidationPassed != nil {
		add("validation_passed", *p.ValidationPassed)
	}
	return clause, args
}

// orderableColumns whitelists the columns ListByStatus may sort by,
// keyed by the camelCase field name callers pass (per registry.Gateway's
// "createdAt"-style convention) and mapped to the actual snake_case SQL
// column, since orderBy is caller-supplied and must never be
// interpolated into SQL unchecked.
var orderableColumns = map[string]string{
	"createdAt":      "created_at",
	"startedAt":      "started_at",
	"heartbeatAt":    "heartbeat_at",
	"processedLines": "processed_lines",
}

func sanitizeOrderBy(orderBy string) string {
	if column, ok := orderableColumns[orderBy]; ok {
		return column
	}
	return "created_at"
}
