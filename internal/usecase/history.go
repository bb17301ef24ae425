package usecase

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"medinote/internal/domain"
)

// HistoryBucket is the window inside which records of one patient are treated as one encounter.
const HistoryBucket = 10 * time.Minute

type historyKey struct {
	name   string
	age    string
	bucket int64
}

// DedupeHistory keeps the latest record per (name, age, 10-minute bucket) for the
// given patient and returns them newest first. An empty age is pinned to the age of
// the first record matching name.
func DedupeHistory(records []domain.ConsultationRecord, name, age string) []domain.ConsultationRecord {
	if age == "" {
		first, ok := lo.Find(records, func(record domain.ConsultationRecord) bool {
			return record.PatientName == name
		})
		if !ok {
			return []domain.ConsultationRecord{}
		}
		age = first.PatientAge
	}

	matching := lo.Filter(records, func(record domain.ConsultationRecord, _ int) bool {
		return record.PatientName == name && record.PatientAge == age
	})
	if len(matching) == 0 {
		return []domain.ConsultationRecord{}
	}

	buckets := lo.GroupBy(matching, func(record domain.ConsultationRecord) historyKey {
		return historyKey{name: record.PatientName, age: record.PatientAge, bucket: bucketOf(record.CreatedAt)}
	})
	kept := lo.MapToSlice(buckets, func(_ historyKey, group []domain.ConsultationRecord) domain.ConsultationRecord {
		return lo.MaxBy(group, func(a, b domain.ConsultationRecord) bool {
			return a.CreatedAt.After(b.CreatedAt)
		})
	})

	slices.SortStableFunc(kept, func(a, b domain.ConsultationRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return kept
}

func bucketOf(t time.Time) int64 {
	width := int64(HistoryBucket / time.Second)
	unix := t.Unix()
	bucket := unix / width
	if unix < 0 && unix%width != 0 {
		bucket--
	}
	return bucket
}
