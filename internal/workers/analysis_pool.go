package workers

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/casescribe/internal/services"
	"github.com/yoockh/casescribe/internal/utils"
)

// Handler runs one accepted analysis job to a terminal state.
type Handler interface {
	Process(ctx context.Context, task services.AnalysisTask) error
}

// StreamPool distributes analysis jobs over a Redis stream consumer group so
// several server replicas can share the backlog.
type StreamPool struct {
	Redis      *redis.Client
	Handler    Handler
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
	MaxLen         int64
	Block          time.Duration

	// entries pending longer than ClaimIdle belong to a consumer that died
	// mid-job; each consumer checks for them every ClaimEvery
	ClaimIdle  time.Duration
	ClaimEvery time.Duration
}

func (p *StreamPool) defaults() {
	if p.Stream == "" {
		p.Stream = "analysis:jobs"
	}
	if p.Group == "" {
		p.Group = "analysis-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.MaxLen <= 0 {
		p.MaxLen = 1000
	}
	if p.Block <= 0 {
		p.Block = 5 * time.Second
	}
	// must stay above the job timeout or live jobs get claimed twice
	if p.ClaimIdle <= 0 {
		p.ClaimIdle = 10 * time.Minute
	}
	if p.ClaimEvery <= 0 {
		p.ClaimEvery = time.Minute
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
}

// Enqueue appends a task to the stream. Audio travels base64 encoded inside
// the entry and is gone once the entry is trimmed.
func (p *StreamPool) Enqueue(ctx context.Context, task services.AnalysisTask) error {
	const op = "StreamPool.Enqueue"

	if p.Redis == nil {
		return utils.E(utils.CodeUnavailable, op, "redis is not configured", nil)
	}
	p.defaults()
	err := p.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Stream,
		MaxLen: p.MaxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":       task.JobID,
			"format":       task.Format,
			"provider":     task.Provider,
			"language":     task.Language,
			"audio_base64": base64.StdEncoding.EncodeToString(task.Audio),
		},
	}).Err()
	if err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to enqueue job", err)
	}
	return nil
}

func (p *StreamPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Handler == nil {
		return errors.New("StreamPool missing dependency: Redis/Handler must be set")
	}
	p.defaults()

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	p.Logger.WithFields(logrus.Fields{"stream": p.Stream, "workers": p.NumWorkers}).Info("analysis workers started")
	return nil
}

func (p *StreamPool) runConsumer(ctx context.Context, consumer string) {
	var lastClaim time.Time
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if time.Since(lastClaim) >= p.ClaimEvery {
			lastClaim = time.Now()
			p.reclaim(ctx, consumer)
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    1,
			Block:    p.Block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			p.Logger.WithError(err).WithField("consumer", consumer).Warn("stream read failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.finish(ctx, msg)
			}
		}
	}
}

// reclaim takes over entries left pending by a dead consumer and runs them.
func (p *StreamPool) reclaim(ctx context.Context, consumer string) int {
	n := 0
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := p.Redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   p.Stream,
			Group:    p.Group,
			Consumer: consumer,
			MinIdle:  p.ClaimIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				p.Logger.WithError(err).WithField("consumer", consumer).Warn("pending claim failed")
			}
			return n
		}
		for _, msg := range msgs {
			p.Logger.WithFields(logrus.Fields{"redis_id": msg.ID, "consumer": consumer}).Warn("reclaimed stale job entry")
			p.finish(ctx, msg)
			n++
		}
		if next == "" || next == "0-0" {
			return n
		}
		start = next
	}
	return n
}

func (p *StreamPool) finish(ctx context.Context, msg redis.XMessage) {
	p.handleMsg(ctx, msg)
	_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
	_ = p.Redis.XDel(ctx, p.Stream, msg.ID).Err()
}

func (p *StreamPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	task, err := decodeTask(msg)
	log := p.Logger.WithFields(logrus.Fields{"redis_id": msg.ID, "job_id": task.JobID})
	if err != nil {
		log.WithError(err).Warn("dropping malformed job entry")
		return
	}
	if err := p.Handler.Process(ctx, task); err != nil {
		log.WithError(err).Error("analysis job failed to complete")
	}
}

func decodeTask(msg redis.XMessage) (services.AnalysisTask, error) {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	task := services.AnalysisTask{
		JobID:    getStr("job_id"),
		Format:   getStr("format"),
		Provider: getStr("provider"),
		Language: getStr("language"),
	}
	if task.JobID == "" {
		return task, errors.New("missing job_id")
	}
	raw, err := base64.StdEncoding.DecodeString(getStr("audio_base64"))
	if err != nil {
		return task, err
	}
	if len(raw) == 0 {
		return task, errors.New("empty audio")
	}
	task.Audio = raw
	return task, nil
}
