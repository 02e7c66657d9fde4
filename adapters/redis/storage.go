package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rankkit/core"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"RANKKIT_STORAGE_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" env:"RANKKIT_STORAGE_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"RANKKIT_STORAGE_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"RANKKIT_STORAGE_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"RANKKIT_STORAGE_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"RANKKIT_STORAGE_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"RANKKIT_STORAGE_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"RANKKIT_STORAGE_REDIS_WRITE_TIMEOUT"`
	// KeyPrefix namespaces every key written by the store.
	KeyPrefix string `json:"key_prefix" env:"RANKKIT_STORAGE_REDIS_KEY_PREFIX"`
	// MaxRetries bounds optimistic transaction retries on contention.
	MaxRetries int `json:"max_retries" env:"RANKKIT_STORAGE_REDIS_MAX_RETRIES"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "rankkit",
		MaxRetries:   50,
	}
}

// Store implements the engine stores on Redis.
// Data structure:
// - {prefix}:profile:{user} -> JSON UserProfile
// - {prefix}:completion:{user}:{activity} -> JSON CompletionRecord, written with SETNX
// - {prefix}:rank:{period}:{category}:record:{user} -> JSON RankingRecord
// - {prefix}:rank:{period}:{category}:positions -> sorted set user -> position
// - {prefix}:partitions -> set of partition keys
//
// Positions live only in the sorted set so record updates never overwrite them.
type Store struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, core.StorageError("connect to redis", err)
	}

	s := NewWithClient(client)
	if config.KeyPrefix != "" {
		s.prefix = config.KeyPrefix
	}
	if config.MaxRetries > 0 {
		s.maxRetries = config.MaxRetries
	}
	return s, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	def := DefaultConfig()
	return &Store{client: client, prefix: def.KeyPrefix, maxRetries: def.MaxRetries}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return core.StorageError("ping redis", err)
	}
	return nil
}

func (s *Store) profileKey(user core.UserID) string {
	return fmt.Sprintf("%s:profile:%s", s.prefix, user)
}

func (s *Store) completionKey(user core.UserID, activity core.ActivityID) string {
	return fmt.Sprintf("%s:completion:%s:%s", s.prefix, user, activity)
}

func (s *Store) recordKey(key core.RecordKey) string {
	return fmt.Sprintf("%s:rank:%s:record:%s", s.prefix, key.Partition.Key(), key.UserID)
}

func (s *Store) positionsKey(p core.Partition) string {
	return fmt.Sprintf("%s:rank:%s:positions", s.prefix, p.Key())
}

func (s *Store) partitionsKey() string { return s.prefix + ":partitions" }

// partitionFromKey parses the output of core.Partition.Key.
func partitionFromKey(k string) (core.Partition, bool) {
	period, category, ok := strings.Cut(k, ":")
	if !ok || !core.Period(period).Valid() {
		return core.Partition{}, false
	}
	if category == "*" {
		category = ""
	}
	return core.Partition{Period: core.Period(period), Category: category}, true
}

// callbackError marks errors returned by update callbacks so they are not
// reported as storage failures.
type callbackError struct{ err error }

func (e callbackError) Error() string { return e.err.Error() }

func (s *Store) watch(ctx context.Context, op string, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < s.maxRetries; i++ {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	var cb callbackError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &cb):
		return cb.err
	default:
		return core.StorageError(op, err)
	}
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.UserProfile, error) {
	data, err := s.client.Get(ctx, s.profileKey(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.UserProfile{}, core.ErrNotFound
	}
	if err != nil {
		return core.UserProfile{}, core.StorageError("get profile", err)
	}
	return decodeProfile(data)
}

func decodeProfile(data []byte) (core.UserProfile, error) {
	var p core.UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return core.UserProfile{}, core.StorageError("decode profile", err)
	}
	if p.CompletedActivities == nil {
		p.CompletedActivities = map[core.ActivityID]struct{}{}
	}
	return p, nil
}

// UpdateProfile applies fn in a WATCH/MULTI transaction, retrying on conflict.
func (s *Store) UpdateProfile(ctx context.Context, user core.UserID, fn func(*core.UserProfile) error) (core.UserProfile, error) {
	key := s.profileKey(user)
	var out core.UserProfile
	err := s.watch(ctx, "update profile", func(tx *redis.Tx) error {
		var p core.UserProfile
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			p = core.NewUserProfile(user)
		case err != nil:
			return err
		default:
			if p, err = decodeProfile(data); err != nil {
				return err
			}
		}
		if err := fn(&p); err != nil {
			return callbackError{err}
		}
		p.UserID = user
		enc, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, enc, 0)
			return nil
		})
		out = p
		return err
	}, key)
	if err != nil {
		return core.UserProfile{}, err
	}
	return out, nil
}

// InsertCompletion writes the record with SETNX so only one caller wins.
func (s *Store) InsertCompletion(ctx context.Context, rec core.CompletionRecord) (core.CompletionRecord, bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return core.CompletionRecord{}, false, core.StorageError("encode completion", err)
	}
	ok, err := s.client.SetNX(ctx, s.completionKey(rec.UserID, rec.ActivityID), data, 0).Result()
	if err != nil {
		return core.CompletionRecord{}, false, core.StorageError("insert completion", err)
	}
	if ok {
		return rec, true, nil
	}
	existing, err := s.GetCompletion(ctx, rec.UserID, rec.ActivityID)
	return existing, false, err
}

func (s *Store) GetCompletion(ctx context.Context, user core.UserID, activity core.ActivityID) (core.CompletionRecord, error) {
	data, err := s.client.Get(ctx, s.completionKey(user, activity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.CompletionRecord{}, core.ErrNotFound
	}
	if err != nil {
		return core.CompletionRecord{}, core.StorageError("get completion", err)
	}
	var rec core.CompletionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.CompletionRecord{}, core.StorageError("decode completion", err)
	}
	return rec, nil
}

// Lua script creating a record at position ZCARD+1 unless it exists.
// Returns the stored JSON and the record's position.
var ensureRecordScript = redis.NewScript(`
	local rec = redis.call('GET', KEYS[1])
	if rec then
		local pos = redis.call('ZSCORE', KEYS[2], ARGV[2])
		if not pos then
			pos = redis.call('ZCARD', KEYS[2]) + 1
			redis.call('ZADD', KEYS[2], pos, ARGV[2])
		end
		return {rec, tonumber(pos)}
	end
	local pos = redis.call('ZCARD', KEYS[2]) + 1
	redis.call('SET', KEYS[1], ARGV[1])
	redis.call('ZADD', KEYS[2], pos, ARGV[2])
	redis.call('SADD', KEYS[3], ARGV[3])
	return {ARGV[1], pos}
`)

func (s *Store) EnsureRecord(ctx context.Context, key core.RecordKey) (core.RankingRecord, error) {
	fresh, err := json.Marshal(core.NewRankingRecord(key, 0, time.Now()))
	if err != nil {
		return core.RankingRecord{}, core.StorageError("encode record", err)
	}
	keys := []string{s.recordKey(key), s.positionsKey(key.Partition), s.partitionsKey()}
	res, err := ensureRecordScript.Run(ctx, s.client, keys, fresh, string(key.UserID), key.Partition.Key()).Slice()
	if err != nil {
		return core.RankingRecord{}, core.StorageError("ensure record", err)
	}
	if len(res) != 2 {
		return core.RankingRecord{}, core.StorageError("ensure record", errors.New("unexpected result from Redis script"))
	}
	raw, _ := res[0].(string)
	pos, _ := res[1].(int64)
	rec, err := decodeRecord([]byte(raw))
	if err != nil {
		return core.RankingRecord{}, err
	}
	rec.Position = int(pos)
	return rec, nil
}

func decodeRecord(data []byte) (core.RankingRecord, error) {
	var rec core.RankingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.RankingRecord{}, core.StorageError("decode record", err)
	}
	if rec.Achievements == nil {
		rec.Achievements = []core.Achievement{}
	}
	if rec.History == nil {
		rec.History = []core.HistoryEntry{}
	}
	return rec, nil
}

func (s *Store) position(ctx context.Context, key core.RecordKey) (int, error) {
	score, err := s.client.ZScore(ctx, s.positionsKey(key.Partition), string(key.UserID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, core.StorageError("get position", err)
	}
	return int(score), nil
}

func (s *Store) GetRecord(ctx context.Context, key core.RecordKey) (core.RankingRecord, error) {
	data, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.RankingRecord{}, core.ErrNotRanked
	}
	if err != nil {
		return core.RankingRecord{}, core.StorageError("get record", err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return core.RankingRecord{}, err
	}
	if rec.Position, err = s.position(ctx, key); err != nil {
		return core.RankingRecord{}, err
	}
	return rec, nil
}

// UpdateRecord ensures the record, then applies fn in a WATCH/MULTI
// transaction on the record key. The sorted set is never touched here.
func (s *Store) UpdateRecord(ctx context.Context, key core.RecordKey, fn func(*core.RankingRecord) error) (core.RankingRecord, error) {
	if _, err := s.EnsureRecord(ctx, key); err != nil {
		return core.RankingRecord{}, err
	}
	rk := s.recordKey(key)
	var out core.RankingRecord
	err := s.watch(ctx, "update record", func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, rk).Bytes()
		if err != nil {
			return err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return callbackError{err}
		}
		rec.UserID, rec.Period, rec.Category = key.UserID, key.Partition.Period, key.Partition.Category
		rec.Position = 0
		enc, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, enc, 0)
			return nil
		})
		out = rec
		return err
	}, rk)
	if err != nil {
		return core.RankingRecord{}, err
	}
	if out.Position, err = s.position(ctx, key); err != nil {
		return core.RankingRecord{}, err
	}
	return out, nil
}

// loadRanked fetches the records for ranked sorted-set members in order.
func (s *Store) loadRanked(ctx context.Context, p core.Partition, members []redis.Z) ([]core.RankingRecord, error) {
	out := make([]core.RankingRecord, 0, len(members))
	if len(members) == 0 {
		return out, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.recordKey(core.RecordKey{UserID: core.UserID(fmt.Sprint(m.Member)), Partition: p})
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, core.StorageError("load records", err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		rec.Position = int(members[i].Score)
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) ListPartition(ctx context.Context, p core.Partition) ([]core.RankingRecord, error) {
	members, err := s.client.ZRangeWithScores(ctx, s.positionsKey(p), 0, -1).Result()
	if err != nil {
		return nil, core.StorageError("list partition", err)
	}
	return s.loadRanked(ctx, p, members)
}

func (s *Store) RangeByPosition(ctx context.Context, p core.Partition, from, to int) ([]core.RankingRecord, error) {
	if to < from {
		return []core.RankingRecord{}, nil
	}
	members, err := s.client.ZRangeByScoreWithScores(ctx, s.positionsKey(p), &redis.ZRangeBy{
		Min: strconv.Itoa(from),
		Max: strconv.Itoa(to),
	}).Result()
	if err != nil {
		return nil, core.StorageError("range partition", err)
	}
	return s.loadRanked(ctx, p, members)
}

func (s *Store) CountPartition(ctx context.Context, p core.Partition) (int, error) {
	n, err := s.client.ZCard(ctx, s.positionsKey(p)).Result()
	if err != nil {
		return 0, core.StorageError("count partition", err)
	}
	return int(n), nil
}

// SetPositions updates existing sorted-set members only.
func (s *Store) SetPositions(ctx context.Context, p core.Partition, positions map[core.UserID]int) error {
	if len(positions) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(positions))
	for user, pos := range positions {
		members = append(members, redis.Z{Score: float64(pos), Member: string(user)})
	}
	if err := s.client.ZAddXX(ctx, s.positionsKey(p), members...).Err(); err != nil {
		return core.StorageError("set positions", err)
	}
	return nil
}

func (s *Store) Partitions(ctx context.Context) ([]core.Partition, error) {
	keys, err := s.client.SMembers(ctx, s.partitionsKey()).Result()
	if err != nil {
		return nil, core.StorageError("list partitions", err)
	}
	out := make([]core.Partition, 0, len(keys))
	for _, k := range keys {
		if p, ok := partitionFromKey(k); ok {
			out = append(out, p)
		}
	}
	return out, nil
}
