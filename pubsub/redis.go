// Copyright 2025 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sunyihoo/duplexrpc/log"
)

// RedisConfig configures a RedisBroker.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Prefix       string // prepended to every topic to form the channel name
}

// DefaultRedisConfig contains the defaults used for unset fields.
var DefaultRedisConfig = RedisConfig{
	Addr:         "localhost:6379",
	DialTimeout:  5 * time.Second,
	ReadTimeout:  3 * time.Second,
	WriteTimeout: 3 * time.Second,
	Prefix:       "duplex:",
}

// RedisBroker relays messages through Redis pub/sub channels.
type RedisBroker struct {
	client *redis.Client
	prefix string
	closed atomic.Bool

	mu   sync.Mutex
	subs map[*redisSub]struct{}
}

// DialRedis connects to the configured server and verifies the connection.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisBroker, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultRedisConfig.Addr
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultRedisConfig.DialTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis broker %s: %w", cfg.Addr, err)
	}
	log.Info("Redis broker connected", "addr", cfg.Addr, "db", cfg.DB, "prefix", cfg.Prefix)
	return NewRedisBroker(client, cfg.Prefix), nil
}

// NewRedisBroker creates a broker on an existing client. Close closes the client.
func NewRedisBroker(client *redis.Client, prefix string) *RedisBroker {
	return &RedisBroker{client: client, prefix: prefix, subs: make(map[*redisSub]struct{})}
}

func (b *RedisBroker) channel(topic string) string { return b.prefix + topic }

// Publish sends data to the channel of topic.
func (b *RedisBroker) Publish(ctx context.Context, topic string, data any) error {
	if b.closed.Load() {
		return ErrClosed
	}
	raw, err := encode(data)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(topic), []byte(raw)).Err()
}

// Subscribe listens on the channel of topic. It returns once Redis confirmed
// the subscription.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string, fn Listener) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	ps := b.client.Subscribe(ctx, b.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}
	sub := &redisSub{b: b, ps: ps, topic: topic, fn: fn, err: make(chan error, 1), quit: make(chan struct{})}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.loop()
	return sub, nil
}

// Close ends every subscription and closes the client.
func (b *RedisBroker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*redisSub]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.end(ErrClosed)
	}
	return b.client.Close()
}

type redisSub struct {
	b     *RedisBroker
	ps    *redis.PubSub
	topic string
	fn    Listener

	quit chan struct{}
	err  chan error
	once sync.Once
}

func (s *redisSub) loop() {
	ch := s.ps.Channel()
	for {
		select {
		case <-s.quit:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			select {
			case <-s.quit:
				return
			default:
			}
			s.fn(Message{Topic: s.topic, Data: json.RawMessage(m.Payload)})
		}
	}
}

func (s *redisSub) Unsubscribe() {
	s.b.mu.Lock()
	delete(s.b.subs, s)
	s.b.mu.Unlock()
	s.end(nil)
}

func (s *redisSub) Err() <-chan error { return s.err }

func (s *redisSub) end(err error) {
	s.once.Do(func() {
		close(s.quit)
		if cerr := s.ps.Close(); cerr != nil && err == nil {
			log.Debug("Redis unsubscribe failed", "topic", s.topic, "err", cerr)
		}
		if err != nil {
			s.err <- err
		}
		close(s.err)
	})
}
