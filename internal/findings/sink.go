package findings

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"forgefuzz/config"
	"forgefuzz/internal/module"
	"forgefuzz/internal/utils"
	"forgefuzz/pkg/database"
)

// Message is one finding queued for persistence, with the raw reproducing
// input when the module captured one.
type Message struct {
	RunID      string
	Module     string
	Finding    module.Finding
	Reproducer []byte
}

// Sink fans findings from concurrent runs into one writer that persists
// reproducer files and database rows.
type Sink struct {
	db     *gorm.DB
	logger *zap.Logger

	findingsDir string
	findingChan chan Message
	done        chan struct{}
}

func NewSink(db *gorm.DB, logger *zap.Logger, appConfig *config.AppConfig, lifeCycle fx.Lifecycle) *Sink {
	findingsDir := appConfig.FindingsDir
	if err := os.MkdirAll(findingsDir, 0755); err != nil {
		// nowhere to store reproducers, nothing useful left to do
		logger.Fatal("failed to create findings directory", zap.Error(err))
		return nil
	}

	s := &Sink{
		db:          db,
		logger:      logger,
		findingsDir: findingsDir,
		findingChan: make(chan Message, 1024),
		done:        make(chan struct{}),
	}

	lifeCycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.logger.Debug("starting finding sink")
			go s.start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.logger.Info("stopping finding sink")
			close(s.findingChan)
			<-s.done
			return nil
		},
	})

	return s
}

// Submit queues one finding. Called by campaign runs; safe for concurrent use.
func (s *Sink) Submit(msg Message) {
	s.findingChan <- msg
}

// SubmitResult queues every finding of a result, pairing each with its
// reproducing input when the module preserved one in finding metadata.
func (s *Sink) SubmitResult(runID string, result *module.Result) {
	for _, f := range result.Findings {
		msg := Message{
			RunID:   runID,
			Module:  result.Module,
			Finding: f,
		}
		if encoded, ok := f.Metadata["input_hex"].(string); ok {
			if raw, err := hex.DecodeString(encoded); err == nil {
				msg.Reproducer = raw
			}
		}
		s.Submit(msg)
	}
}

func (s *Sink) start() {
	defer close(s.done)
	for msg := range s.findingChan {
		if err := s.process(msg); err != nil {
			s.logger.Error("failed to persist finding", zap.Error(err))
			continue
		}
	}
}

func (s *Sink) process(msg Message) error {
	reproducerPath := ""
	if len(msg.Reproducer) > 0 {
		store := filepath.Join(s.findingsDir, msg.RunID)
		if err := os.MkdirAll(store, 0755); err != nil {
			return fmt.Errorf("failed to create finding store directory: %w", err)
		}
		sum := md5.Sum(msg.Reproducer)
		reproducerPath = filepath.Join(store, hex.EncodeToString(sum[:]))
		if err := os.WriteFile(reproducerPath, msg.Reproducer, 0644); err != nil {
			return fmt.Errorf("failed to write reproducer file: %w", err)
		}
	} else if src, ok := msg.Finding.Metadata["reproducer"].(string); ok && src != "" {
		// modules that run external engines leave the reproducer on disk;
		// copy it before the run workspace is cleaned up
		store := filepath.Join(s.findingsDir, msg.RunID)
		if err := os.MkdirAll(store, 0755); err != nil {
			return fmt.Errorf("failed to create finding store directory: %w", err)
		}
		reproducerPath = filepath.Join(store, filepath.Base(src))
		if err := utils.CopyFile(src, reproducerPath); err != nil {
			s.logger.Warn("failed to preserve reproducer file", zap.String("src", src), zap.Error(err))
			reproducerPath = ""
		}
	}

	row := database.NewFinding(
		msg.Finding.ID,
		msg.RunID,
		msg.Module,
		msg.Finding.Title,
		string(msg.Finding.Severity),
		msg.Finding.Category,
		msg.Finding.FilePath,
		reproducerPath,
		msg.Finding.Metadata,
	)
	if err := database.AddFindings(context.Background(), s.db, []*database.Finding{row}); err != nil {
		return fmt.Errorf("failed to store finding: %w", err)
	}
	s.logger.Info("finding persisted",
		zap.String("run_id", msg.RunID),
		zap.String("finding_id", msg.Finding.ID),
		zap.String("severity", string(msg.Finding.Severity)),
	)
	return nil
}
