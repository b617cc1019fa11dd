package tasks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Task names.
const (
	TaskCreateUser        = "create_user"
	TaskWelcomeMail       = "welcome_mail"
	TaskResetPasswordMail = "reset_password_mail"
	TaskReactivateMail    = "reactivate_mail"
	TaskStillThereMail    = "still_there_mail"
	TaskCleanMember       = "clean_member"
	TaskReconcileMember   = "reconcile_member"
)

// Task is one unit of deferred work.
type Task struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Params  map[string]string `json:"params"`
	Retries int               `json:"retries"`
}

// Queue is a delayed task queue on a redis sorted set. The score is the
// earliest time a task may run.
type Queue struct {
	client    *redis.Client
	queueName string
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

// Enqueue schedules a task to run after the delay.
func (q *Queue) Enqueue(ctx context.Context, name string, params map[string]string, delay time.Duration) error {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return err
	}
	task := &Task{
		ID:     hex.EncodeToString(raw),
		Name:   name,
		Params: params,
	}
	return q.push(ctx, task, delay)
}

// Requeue puts a task back with its retry count bumped. The caller decides
// the backoff.
func (q *Queue) Requeue(ctx context.Context, task *Task, delay time.Duration) error {
	task.Retries++
	return q.push(ctx, task, delay)
}

func (q *Queue) push(ctx context.Context, task *Task, delay time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return q.client.ZAdd(ctx, q.queueName, &redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: data,
	}).Err()
}

// PopDue claims the next task whose time has come, or returns nil if there
// is none. The ZRem settles races between competing workers; only the
// remover owns the task.
func (q *Queue) PopDue(ctx context.Context) (*Task, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	entries, err := q.client.ZRangeByScore(ctx, q.queueName, &redis.ZRangeBy{
		Min: "-inf", Max: now, Offset: 0, Count: 1,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	removed, err := q.client.ZRem(ctx, q.queueName, entries[0]).Result()
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		return nil, nil
	}

	var task Task
	if err := json.Unmarshal([]byte(entries[0]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// Length counts scheduled tasks, due or not.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueName).Result()
}
