package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	TaskParseSyllabus    = "syllabus:parse"
	TaskProvisionFolders = "folders:provision"
	TaskSortFile         = "sort:file"
	TaskExpirePending    = "pending:expire"
)

// mediaPayload carries a download-and-process task: where the media lives on
// the Graph API and the unique scratch path to download it to.
type mediaPayload struct {
	Phone     string `json:"phone"`
	MediaID   string `json:"media_id"`
	LocalPath string `json:"local_path"`
}

type phonePayload struct {
	Phone string `json:"phone"`
}

// Queue enqueues background tasks. It is the bot engine's Enqueuer.
//
// None of these tasks retry automatically: every failure path already ends in
// a chat message asking the user to resend, and retrying folder provisioning
// would duplicate Drive trees.
type Queue struct {
	client *asynq.Client
}

// NewQueue creates the asynq enqueue client.
func NewQueue(redisURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt)}, nil
}

// Close closes the underlying client connection gracefully.
func (q *Queue) Close() error {
	return q.client.Close()
}

// ParseSyllabus schedules syllabus download + extraction.
func (q *Queue) ParseSyllabus(phone, mediaID, localPath string) error {
	return q.enqueue(TaskParseSyllabus,
		mediaPayload{Phone: phone, MediaID: mediaID, LocalPath: localPath},
		asynq.MaxRetry(0),
		asynq.Timeout(3*time.Minute),
		asynq.Retention(24*time.Hour),
	)
}

// ProvisionFolders schedules the Drive tree build for a confirmed draft.
func (q *Queue) ProvisionFolders(phone string) error {
	return q.enqueue(TaskProvisionFolders,
		phonePayload{Phone: phone},
		asynq.MaxRetry(0),
		asynq.Timeout(5*time.Minute),
		asynq.Retention(24*time.Hour),
	)
}

// SortFile schedules file download + classification + upload.
func (q *Queue) SortFile(phone, mediaID, localPath string) error {
	return q.enqueue(TaskSortFile,
		mediaPayload{Phone: phone, MediaID: mediaID, LocalPath: localPath},
		asynq.MaxRetry(0),
		asynq.Timeout(3*time.Minute),
		asynq.Retention(24*time.Hour),
	)
}

func (q *Queue) enqueue(taskType string, payload any, opts ...asynq.Option) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	if _, err := q.client.Enqueue(asynq.NewTask(taskType, raw, opts...)); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	return nil
}
