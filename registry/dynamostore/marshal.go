package dynamostore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gurre/ddb-pitr/jobmodel"
)

// timeLayout is RFC3339 with a fixed nine-digit fraction, so every
// value has the same width. createdAt is written in UTC with it, giving
// lexicographic ordering that matches chronological ordering — required
// for the status GSI's "createdAt" sort key to actually sort by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func marshalJob(j jobmodel.Job) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"id":               s(j.ID),
		"status":           s(string(j.Status)),
		"fileName":         s(j.FileName),
		"sourceItemId":     s(j.SourceItemID),
		"totalBytes":       n(j.TotalBytes),
		"processedLines":   n(j.ProcessedLines),
		"processedBytes":   n(j.ProcessedBytes),
		"errorLines":       n(j.ErrorLines),
		"totalLines":       n(j.TotalLines),
		"numFragments":     n(j.NumFragments),
		"fragmentsDone":    n(j.FragmentsDone),
		"createdAt":        s(j.CreatedAt.UTC().Format(timeLayout)),
		"totalDurationMs":  n(j.TotalDurationMs),
		"linesPerSecond":   f(j.LinesPerSecond),
		"bytesPerSecond":   f(j.BytesPerSecond),
		"cancelRequested":  b(j.CancelRequested),
		"claimedBy":        s(j.ClaimedBy),
		"errorMessage":     s(j.ErrorMessage),
		"validationPassed": b(j.ValidationPassed),
	}
	if j.StartedAt != nil {
		item["startedAt"] = s(j.StartedAt.Format(timeLayout))
	}
	if j.FinishedAt != nil {
		item["finishedAt"] = s(j.FinishedAt.Format(timeLayout))
	}
	if j.HeartbeatAt != nil {
		item["heartbeatAt"] = s(j.HeartbeatAt.Format(timeLayout))
	}
	return item
}

func unmarshalJob(item map[string]types.AttributeValue) (jobmodel.Job, error) {
	var j jobmodel.Job
	var err error

	j.ID = getS(item, "id")
	j.Status = jobmodel.Status(getS(item, "status"))
	j.FileName = getS(item, "fileName")
	j.SourceItemID = getS(item, "sourceItemId")
	if j.TotalBytes, err = getN(item, "totalBytes"); err != nil {
		return j, err
	}
	if j.ProcessedLines, err = getN(item, "processedLines"); err != nil {
		return j, err
	}
	if j.ProcessedBytes, err = getN(item, "processedBytes"); err != nil {
		return j, err
	}
	if j.ErrorLines, err = getN(item, "errorLines"); err != nil {
		return j, err
	}
	if j.TotalLines, err = getN(item, "totalLines"); err != nil {
		return j, err
	}
	if j.NumFragments, err = getN(item, "numFragments"); err != nil {
		return j, err
	}
	if j.FragmentsDone, err = getN(item, "fragmentsDone"); err != nil {
		return j, err
	}
	if j.TotalDurationMs, err = getN(item, "totalDurationMs"); err != nil {
		return j, err
	}
	if j.LinesPerSecond, err = getF(item, "linesPerSecond"); err != nil {
		return j, err
	}
	if j.BytesPerSecond, err = getF(item, "bytesPerSecond"); err != nil {
		return j, err
	}
	j.CancelRequested = getB(item, "cancelRequested")
	j.ClaimedBy = getS(item, "claimedBy")
	j.ErrorMessage = getS(item, "errorMessage")
	j.ValidationPassed = getB(item, "validationPassed")

	if j.CreatedAt, err = parseTime(getS(item, "createdAt")); err != nil {
		return j, err
	}
	if t := getS(item, "startedAt"); t != "" {
		parsed, err := parseTime(t)
		if err != nil {
			return j, err
		}
		j.StartedAt = &parsed
	}
	if t := getS(item, "finishedAt"); t != "" {
		parsed, err := parseTime(t)
		if err != nil {
			return j, err
		}
		j.FinishedAt = &parsed
	}
	if t := getS(item, "heartbeatAt"); t != "" {
		parsed, err := parseTime(t)
		if err != nil {
			return j, err
		}
		j.HeartbeatAt = &parsed
	}

	return j, nil
}

// patchExpression turns a jobmodel.Patch into the SET-clause pieces an
// UpdateItemInput needs, mirroring the teacher's updateItem expression
// building in writer.go (one #name/:value pair per modified attribute).
func patchExpression(p jobmodel.Patch) (set []string, names map[string]string, values map[string]types.AttributeValue) {
	names = map[string]string{}
	values = map[string]types.AttributeValue{}
	add := func(attr string, av types.AttributeValue) {
		ph := fmt.Sprintf("#%s", attr)
		vh := fmt.Sprintf(":%s", attr)
		set = append(set, ph+" = "+vh)
		names[ph] = attr
		values[vh] = av
	}

	if p.Status != nil {
		add("status", s(string(*p.Status)))
	}
	if p.ProcessedLines != nil {
		add("processedLines", n(*p.ProcessedLines))
	}
	if p.ProcessedBytes != nil {
		add("processedBytes", n(*p.ProcessedBytes))
	}
	if p.ErrorLines != nil {
		add("errorLines", n(*p.ErrorLines))
	}
	if p.TotalLines != nil {
		add("totalLines", n(*p.TotalLines))
	}
	if p.NumFragments != nil {
		add("numFragments", n(*p.NumFragments))
	}
	if p.FragmentsDone != nil {
		add("fragmentsDone", n(*p.FragmentsDone))
	}
	if p.StartedAt != nil {
		add("startedAt", s(p.StartedAt.Format(timeLayout)))
	}
	if p.FinishedAt != nil {
		add("finishedAt", s(p.FinishedAt.Format(timeLayout)))
	}
	if p.HeartbeatAt != nil {
		add("heartbeatAt", s(p.HeartbeatAt.Format(timeLayout)))
	}
	if p.TotalDurationMs != nil {
		add("totalDurationMs", n(*p.TotalDurationMs))
	}
	if p.LinesPerSecond != nil {
		add("linesPerSecond", f(*p.LinesPerSecond))
	}
	if p.BytesPerSecond != nil {
		add("bytesPerSecond", f(*p.BytesPerSecond))
	}
	if p.CancelRequested != nil {
		add("cancelRequested", b(*p.CancelRequested))
	}
	if p.ClaimedBy != nil {
		add("claimedBy", s(*p.ClaimedBy))
	}
	if p.ErrorMessage != nil {
		add("errorMessage", s(*p.ErrorMessage))
	}
	if p.ValidationPassed != nil {
		add("validationPassed", b(*p.ValidationPassed))
	}
	return set, names, values
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

func s(v string) *types.AttributeValueMemberS { return &types.AttributeValueMemberS{Value: v} }
func n(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}
func f(v float64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', -1, 64)}
}
func b(v bool) *types.AttributeValueMemberBOOL { return &types.AttributeValueMemberBOOL{Value: v} }

func getS(item map[string]types.AttributeValue, key string) string {
	if av, ok := item[key]; ok {
		if sv, ok := av.(*types.AttributeValueMemberS); ok {
			return sv.Value
		}
	}
	return ""
}

func getB(item map[string]types.AttributeValue, key string) bool {
	if av, ok := item[key]; ok {
		if bv, ok := av.(*types.AttributeValueMemberBOOL); ok {
			return bv.Value
		}
	}
	return false
}

func getN(item map[string]types.AttributeValue, key string) (int64, error) {
	av, ok := item[key]
	if !ok {
		return 0, nil
	}
	nv, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %s is not a number", key)
	}
	return strconv.ParseInt(nv.Value, 10, 64)
}

func getF(item map[string]types.AttributeValue, key string) (float64, error) {
	av, ok := item[key]
	if !ok {
		return 0, nil
	}
	nv, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %s is not a number", key)
	}
	return strconv.ParseFloat(nv.Value, 64)
}
