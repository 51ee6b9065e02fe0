// Package mq publishes messages to RabbitMQ.
package mq

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Close() error
}

// RabbitMQ publishes persistent messages to durable queues through one
// channel. amqp channels are not safe for concurrent use, so publishes are
// serialized.
type RabbitMQ struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

func Dial(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &RabbitMQ{conn: conn, channel: ch, declared: make(map[string]bool)}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.declared[queue] {
		if _, err := r.channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		r.declared[queue] = true
	}

	err := r.channel.Publish(
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("publish to queue %s: %w", queue, err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var lastErr error
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			lastErr = err
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
