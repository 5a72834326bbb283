package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// Zerolog adapts a zerolog.Logger to Logger. Odd trailing args are logged under
// the key "!BADKEY", like slog does.
type Zerolog struct {
	logger zerolog.Logger
}

func NewZerolog(l zerolog.Logger) *Zerolog {
	return &Zerolog{logger: l}
}

func (z *Zerolog) Error(msg string, args ...any) { z.emit(z.logger.Error(), msg, args) }
func (z *Zerolog) Warn(msg string, args ...any)  { z.emit(z.logger.Warn(), msg, args) }
func (z *Zerolog) Info(msg string, args ...any)  { z.emit(z.logger.Info(), msg, args) }
func (z *Zerolog) Debug(msg string, args ...any) { z.emit(z.logger.Debug(), msg, args) }

func (z *Zerolog) emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			ev = ev.Interface("!BADKEY", args[i])
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, ok := args[i+1].(error); ok {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

type LogBuild struct {
	writer io.Writer
	path   string
	level  zerolog.Level
}

type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

func NewBuild() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

func (build *LogBuild) Level(level zerolog.Level) *LogBuild {
	build.level = level
	return build
}

// Make opens the log file if a path was given, otherwise it writes to the buffer,
// or stdout when neither was set.
func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	writer := build.writer
	if writer == nil {
		writer = os.Stdout
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	logData.Logger = zerolog.New(writer).Level(build.level).With().Timestamp().Logger()
	return logData, nil
}

// Adapter returns the built logger as a Logger.
func (logData *LogData) Adapter() Logger {
	return NewZerolog(logData.Logger)
}

// Close closes the log file, if any.
func (logData *LogData) Close() error {
	if logData.LogFile == nil {
		return nil
	}
	return logData.LogFile.Close()
}
