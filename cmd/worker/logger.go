package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"signage/internal/logging"
)

// asynqLogger routes asynq's internal logs through zerolog
type asynqLogger struct {
	logger *zerolog.Logger
}

func newAsynqLogger() *asynqLogger {
	return &asynqLogger{logger: logging.WithModule("asynq")}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
