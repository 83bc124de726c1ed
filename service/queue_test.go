package service

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func optionValue(opts []asynq.Option, typ asynq.OptionType) interface{} {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value()
		}
	}
	return nil
}

func TestTaskOptions(t *testing.T) {
	q := &Queue{timeout: 55 * time.Minute}
	opts := q.taskOptions()
	assert.Equal(t, 55*time.Minute, optionValue(opts, asynq.TimeoutOpt))
	assert.Equal(t, 1, optionValue(opts, asynq.MaxRetryOpt))

	q = &Queue{}
	assert.Equal(t, time.Hour, optionValue(q.taskOptions(), asynq.TimeoutOpt))
}
