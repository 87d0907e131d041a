package queue

import (
	"encoding/json"

	"github.com/forgehook/reviewbot/internal/domain"
)

// wireJob is the queue's wire payload, matching spec §6's
// {reviewId, projectId, mergeRequestIid} shape.
type wireJob struct {
	ReviewID        string `json:"reviewId"`
	ProjectID       int64  `json:"projectId"`
	MergeRequestIID int64  `json:"mergeRequestIid"`
}

func marshalJob(job domain.Job) (string, error) {
	b, err := json.Marshal(wireJob{
		ReviewID:        job.ReviewID,
		ProjectID:       job.ProjectID,
		MergeRequestIID: job.MergeRequestIID,
	})
	return string(b), err
}

func unmarshalJob(payload string) (domain.Job, error) {
	var w wireJob
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return domain.Job{}, err
	}
	return domain.Job{
		ReviewID:        w.ReviewID,
		ProjectID:       w.ProjectID,
		MergeRequestIID: w.MergeRequestIID,
	}, nil
}
