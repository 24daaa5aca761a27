package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists room records
type Store interface {
	// Get returns the room, or nil when it does not exist
	Get(ctx context.Context, roomID string) (*Room, error)
	Put(ctx context.Context, room *Room) error
	Delete(ctx context.Context, roomID string) error
	Close() error
}

type memoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rooms: make(map[string]*Room)}
}

func (s *memoryStore) Get(_ context.Context, roomID string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return room.clone(), nil
}

func (s *memoryStore) Put(_ context.Context, room *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room.clone()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}

// redisStore keeps each room as a JSON record under "room:<id>" that expires
// after ttl without activity
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisStore(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*redisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &redisStore{client: client, ttl: ttl}, nil
}

func roomKey(roomID string) string {
	return "room:" + roomID
}

func (s *redisStore) Get(ctx context.Context, roomID string) (*Room, error) {
	data, err := s.client.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var room Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to parse room %s: %w", roomID, err)
	}
	return &room, nil
}

func (s *redisStore) Put(ctx context.Context, room *Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, roomKey(room.ID), data, s.ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, roomKey(roomID)).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
