package lplog

import (
	"fmt"
	"io"
	"leadpulse/internal/models/lpconfig"
	"log/syslog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SyslogLevelWriter route chaque ligne zerolog vers la priorité syslog correspondante
type SyslogLevelWriter struct {
	Writer *syslog.Writer
}

// InitLogger configure le logger global
func InitLogger(cfg lpconfig.LoggerConfig, production bool) error {
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return path.Join(path.Base(path.Dir(file)), path.Base(file)) + ":" + strconv.Itoa(line)
	}
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	writers, err := buildWriters(cfg, production, os.Stdout)
	if err != nil {
		return err
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).
		With().
		Timestamp().
		Caller().
		Str("service", "leadpulse").
		Logger()

	env := "developpement"
	if production {
		env = "production"
	}
	log.Info().
		Str("environment", env).
		Str("level", cfg.Level).
		Bool("log_to_file", cfg.File.Enable).
		Bool("log_to_syslog", cfg.Syslog.Enable).
		Msg("Logger initialized")
	return nil
}

func buildWriters(cfg lpconfig.LoggerConfig, production bool, stdout io.Writer) ([]io.Writer, error) {
	var writers []io.Writer

	if !production {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        stdout,
			TimeFormat: "15:04:05",
		})
	}

	if cfg.File.Enable {
		w, err := newFileWriter(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("fichier de log: %w", err)
		}
		writers = append(writers, w)
	}

	if cfg.Syslog.Enable {
		w, err := newSyslogWriter(cfg.Syslog)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	// en production sans sortie configurée on garde du JSON sur stdout
	if len(writers) == 0 {
		writers = append(writers, stdout)
	}
	return writers, nil
}

func (w *SyslogLevelWriter) Write(p []byte) (int, error) {
	msg := string(p)
	var err error
	switch levelOf(msg) {
	case "debug", "trace":
		err = w.Writer.Debug(msg)
	case "warn", "warning":
		err = w.Writer.Warning(msg)
	case "error":
		err = w.Writer.Err(msg)
	case "fatal", "panic":
		err = w.Writer.Crit(msg)
	default:
		err = w.Writer.Info(msg)
	}
	return len(p), err
}

// levelOf lit le champ "level" d'une ligne JSON zerolog sans la décoder
func levelOf(msg string) string {
	const key = `"level":"`
	start := strings.Index(msg, key)
	if start == -1 {
		return ""
	}
	start += len(key)
	end := strings.IndexByte(msg[start:], '"')
	if end == -1 {
		return ""
	}
	return msg[start : start+end]
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func newFileWriter(cfg lpconfig.LoggerFileConfig) (io.Writer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("logger.file.path ne peut pas être vide")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}, nil
}

func newSyslogWriter(cfg lpconfig.LoggerSyslogConfig) (io.Writer, error) {
	tag := cfg.Tag
	if tag == "" {
		tag = "leadpulse"
	}
	priority := cfg.Priority
	if priority == 0 {
		priority = syslog.LOG_INFO | syslog.LOG_LOCAL0
	}

	var (
		writer *syslog.Writer
		err    error
	)
	if cfg.Protocol == "" || cfg.Address == "" {
		writer, err = syslog.New(priority, tag)
	} else {
		writer, err = syslog.Dial(cfg.Protocol, cfg.Address, priority, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("connexion syslog impossible: %w", err)
	}
	return &SyslogLevelWriter{Writer: writer}, nil
}
