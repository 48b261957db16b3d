package livestats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	runsKey        = "campaign:runs"
	logsKeyFmt     = "campaign:logs:%s"
	metadataKeyFmt = "global:campaign_metadata:%s"
	runRetention   = 24 * time.Hour
)

// RedisRunSource keeps the run index and per-run log streams in redis. The
// campaign driver writes runs, the runner appends stats lines, and the
// monitor reads both back.
type RedisRunSource struct {
	logger *zap.Logger
	client *redis.Client
}

func NewRedisRunSource(logger *zap.Logger, client *redis.Client) *RedisRunSource {
	return &RedisRunSource{logger: logger, client: client}
}

type runRecord struct {
	RunID     string    `json:"run_id"`
	Workflow  string    `json:"workflow"`
	StartTime time.Time `json:"start_time"`
	Created   time.Time `json:"created"`
}

type logRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// RecordRun registers a run in the recency index and stores its metadata.
func (s *RedisRunSource) RecordRun(ctx context.Context, info RunInfo) error {
	meta, err := json.Marshal(runRecord{
		RunID:     info.RunID,
		Workflow:  info.Workflow,
		StartTime: info.StartTime,
		Created:   info.Created,
	})
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, runsKey, redis.Z{Score: float64(info.Created.Unix()), Member: info.RunID})
	pipe.Set(ctx, fmt.Sprintf(metadataKeyFmt, info.RunID), meta, runRetention)
	_, err = pipe.Exec(ctx)
	return err
}

// AppendStats appends one stats log line to the run's log stream.
func (s *RedisRunSource) AppendStats(ctx context.Context, runID string, ts time.Time, message string, extra map[string]any) error {
	rec, err := json.Marshal(logRecord{Timestamp: ts, Message: message, Extra: extra})
	if err != nil {
		return err
	}
	key := fmt.Sprintf(logsKeyFmt, runID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, rec)
	pipe.Expire(ctx, key, runRetention)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisRunSource) RecentRuns(ctx context.Context, since time.Time) ([]RunInfo, error) {
	ids, err := s.client.ZRangeByScore(ctx, runsKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	runs := make([]RunInfo, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.Get(ctx, fmt.Sprintf(metadataKeyFmt, id)).Result()
		if err != nil {
			if err != redis.Nil {
				s.logger.Warn("failed to read run metadata", zap.String("run_id", id), zap.Error(err))
			}
			continue
		}
		var rec runRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("corrupt run metadata", zap.String("run_id", id), zap.Error(err))
			continue
		}
		runs = append(runs, RunInfo{
			RunID:     rec.RunID,
			Workflow:  rec.Workflow,
			StartTime: rec.StartTime,
			Created:   rec.Created,
		})
	}
	return runs, nil
}

func (s *RedisRunSource) Logs(ctx context.Context, runID string, after time.Time) ([]LogEntry, error) {
	raw, err := s.client.LRange(ctx, fmt.Sprintf(logsKeyFmt, runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var entries []LogEntry
	for _, item := range raw {
		var rec logRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		if !rec.Timestamp.After(after) {
			continue
		}
		entries = append(entries, LogEntry{
			Timestamp: rec.Timestamp,
			Message:   rec.Message,
			Extra:     rec.Extra,
		})
	}
	return entries, nil
}
