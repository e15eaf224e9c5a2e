package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Client owns broker-level operations: reachability probes and queue
// declaration. Readers and writers keep their own connections.
type Client struct {
	brokers     []string
	dialer      *kafka.Dialer
	partitions  int
	replication int
}

func NewClient(brokers []string, partitions, replication int) *Client {
	if partitions <= 0 {
		partitions = 1
	}
	if replication <= 0 {
		replication = 1
	}
	return &Client{
		brokers:     brokers,
		dialer:      &kafka.Dialer{Timeout: 5 * time.Second, DualStack: true},
		partitions:  partitions,
		replication: replication,
	}
}

func (c *Client) dial(ctx context.Context) (*kafka.Conn, error) {
	if len(c.brokers) == 0 {
		return nil, ErrNoBrokers
	}
	var lastErr error
	for _, addr := range c.brokers {
		conn, err := c.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Connect probes the cluster: one seed broker must accept a connection and
// answer a metadata request.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return newBrokerError("connect", "", err)
	}
	defer conn.Close()
	if _, err := conn.Brokers(); err != nil {
		return newBrokerError("connect", "", err)
	}
	return nil
}

// DeclareDurableQueue creates the topic if missing. An existing topic whose
// partitions carry fewer replicas than configured is a declaration conflict.
func (c *Client) DeclareDurableQueue(ctx context.Context, name string) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return newBrokerError("declare", name, err)
	}
	defer conn.Close()

	ctrl, err := conn.Controller()
	if err != nil {
		return newBrokerError("declare", name, err)
	}
	cc, err := c.dialer.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		return newBrokerError("declare", name, err)
	}
	defer cc.Close()

	minISR := c.replication - 1
	if minISR < 1 {
		minISR = 1
	}
	err = cc.CreateTopics(kafka.TopicConfig{
		Topic:             name,
		NumPartitions:     c.partitions,
		ReplicationFactor: c.replication,
		ConfigEntries: []kafka.ConfigEntry{
			{ConfigName: "min.insync.replicas", ConfigValue: strconv.Itoa(minISR)},
		},
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return newBrokerError("declare", name, err)
	}

	parts, err := cc.ReadPartitions(name)
	if err != nil {
		return newBrokerError("declare", name, err)
	}
	for _, p := range parts {
		if len(p.Replicas) < c.replication {
			return newBrokerError("declare", name, fmt.Errorf("%w: partition %d has %d replicas, want %d",
				ErrQueueConflict, p.ID, len(p.Replicas), c.replication))
		}
	}
	return nil
}
