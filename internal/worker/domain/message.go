package domain

import (
	"github.com/cuongbtq/calc-jobs/internal/job"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobMessage is a decoded queue delivery handed to the worker pool
type JobMessage struct {
	Payload  job.Payload
	Attempt  int
	Delivery amqp.Delivery
}
