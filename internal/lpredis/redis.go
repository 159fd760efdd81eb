package lpredis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	knownKey   = "visitors:known"
	dailyTTL   = 31 * 24 * time.Hour
	dateLayout = "2006-01-02"
)

// Store regroupe les usages redis du service: cache des visiteurs connus,
// compteurs du jour et cache de géolocalisation
type Store struct {
	client *redis.Client
	now    func() time.Time
}

type Realtime struct {
	Date           string `json:"date"`
	Reports        int64  `json:"today_reports"`
	NewVisitors    int64  `json:"today_new_visitors"`
	UniqueVisitors int64  `json:"today_unique_visitors"`
}

func New(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func Connect(ctx context.Context, addr string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connexion redis %s: %w", addr, err)
	}
	return New(client), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func DailyKey(day time.Time) string {
	return "analytics:daily:" + day.Format(dateLayout)
}

func VisitorsKey(day time.Time) string {
	return "analytics:visitors:" + day.Format(dateLayout)
}

func (s *Store) IsKnown(ctx context.Context, uuid string) (bool, error) {
	return s.client.SIsMember(ctx, knownKey, uuid).Result()
}

func (s *Store) MarkKnown(ctx context.Context, uuid string) error {
	return s.client.SAdd(ctx, knownKey, uuid).Err()
}

// RecordReport incrémente les compteurs du jour en une seule transaction
func (s *Store) RecordReport(ctx context.Context, uuid string, created bool) error {
	now := s.now()
	daily := DailyKey(now)
	visitors := VisitorsKey(now)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, daily, "reports", 1)
		if created {
			pipe.HIncrBy(ctx, daily, "new_visitors", 1)
		}
		pipe.Expire(ctx, daily, dailyTTL)
		pipe.SAdd(ctx, visitors, uuid)
		pipe.Expire(ctx, visitors, dailyTTL)
		return nil
	})
	return err
}

func (s *Store) Realtime(ctx context.Context) (Realtime, error) {
	now := s.now()
	rt := Realtime{Date: now.Format(dateLayout)}

	values, err := s.client.HGetAll(ctx, DailyKey(now)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return rt, err
	}
	rt.Reports, _ = strconv.ParseInt(values["reports"], 10, 64)
	rt.NewVisitors, _ = strconv.ParseInt(values["new_visitors"], 10, 64)

	rt.UniqueVisitors, err = s.client.SCard(ctx, VisitorsKey(now)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return rt, err
	}
	return rt, nil
}

// Get renvoie "" pour une clé absente
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}
