package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/chainsentry/reactor/config"
	"github.com/chainsentry/reactor/datastore"
	"github.com/chainsentry/reactor/model"
)

// Consumer pulls alerts off the redis stream with a bounded worker pool.
// Delivery is at-least-once; duplicates are the idempotency store's problem,
// so every message is acked, including poison ones.
type Consumer struct {
	engine  *Engine
	client  *redis.Client
	stream  string
	group   string
	name    string
	workers int
}

func NewConsumer(engine *Engine) *Consumer {
	workers := config.Conf.Executor.Workers
	if workers <= 0 {
		workers = 5
	}
	name := config.Conf.Executor.ConsumerName
	if name == "" {
		name = "reactor"
	}
	return &Consumer{
		engine:  engine,
		client:  datastore.Redis(),
		stream:  config.Conf.Executor.AlertStream,
		group:   config.Conf.Executor.ConsumerGroup,
		name:    name,
		workers: workers,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on stream %s is err: %v", c.group, c.stream, err)
	}

	logrus.Infof("consuming alerts from stream %s with %d workers", c.stream, c.workers)
	wg := sync.WaitGroup{}
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.work(ctx, fmt.Sprintf("%s-%d", c.name, worker))
		}(i)
	}
	wg.Wait()
	return nil
}

func (c *Consumer) work(ctx context.Context, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: consumer,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			logrus.Errorf("read alert stream is err: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handleMessage(ctx, msg)
			}
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage) {
	alert, err := model.DecodeAlert(msg.Values)
	if err != nil {
		logrus.Errorf("decode alert from stream message %s is err: %v", msg.ID, err)
	} else {
		c.engine.Handle(ctx, alert, "")
	}
	if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
		logrus.Errorf("ack stream message %s is err: %v", msg.ID, err)
	}
}
